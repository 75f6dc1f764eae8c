package ingest

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/domain"
)

func TestParseLevelsDedupesAndAcceptsAliases(t *testing.T) {
	t.Parallel()

	levels, err := ParseLevels([]string{"ad", "campaign", "creative"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Level{domain.LevelCreative, domain.LevelCampaign}, levels)

	all, err := ParseLevels(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = ParseLevels([]string{"keyword"})
	assert.Error(t, err)
}

func TestResolveBreakdowns(t *testing.T) {
	t.Parallel()

	configured := []config.Breakdown{{Key: "age"}, {Key: "region", Breakdowns: []string{"region"}}}
	breakdowns, err := ResolveBreakdowns(configured, nil)
	require.NoError(t, err)
	require.Len(t, breakdowns, 2)
	assert.Equal(t, []string{"age"}, breakdowns[0].Breakdowns)
	assert.Equal(t, "region", breakdowns[1].Key)

	override, err := ResolveBreakdowns(configured, []string{"gender"})
	require.NoError(t, err)
	require.Len(t, override, 1)
	assert.Equal(t, "gender", override[0].Key)

	none, err := ResolveBreakdowns(nil, []string{"none"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ResolveBreakdowns([]config.Breakdown{{Key: "weather"}}, nil)
	assert.ErrorContains(t, err, "unknown breakdown")
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.New()
	cfg.Pipeline.HTTPTimeout = 5 * time.Second
	options := OptionsFromConfig(cfg.Pipeline)
	assert.Equal(t, config.DefaultMaxAttempts, options.Retry.MaxAttempts)
	assert.Equal(t, config.DefaultCallCooldown, options.CallCooldown)
	assert.NotNil(t, options.Retry.Classify)
	client, ok := options.HTTP.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, client.Timeout)
}
