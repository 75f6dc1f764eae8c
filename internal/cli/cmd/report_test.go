package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, adGraphServer(t))
	_, stderr, err := execute(t, NewSyncCommand(env.runtime()),
		"--from", "2024-03-28",
		"--to", "2024-03-29",
		"--levels", "creative",
		"--breakdowns", "none",
	)
	require.NoError(t, err, stderr)
	return env
}

func TestReportBuildsPlanFromSyncedRows(t *testing.T) {
	t.Parallel()

	env := syncedEnv(t)
	stdout, stderr, err := execute(t, NewReportCommand(env.runtime()), "--profile", "shop", "--as-of", "2024-03-30")
	require.NoError(t, err, stderr)

	var envelope struct {
		Success bool   `json:"success"`
		Command string `json:"command"`
		Data    struct {
			AccountID    string `json:"account_id"`
			UnmappedRows int    `json:"unmapped_rows"`
			Campaigns    []struct {
				Name  string `json:"name"`
				Items []struct {
					ItemID string `json:"item_id"`
				} `json:"items"`
			} `json:"campaigns"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "adplan report", envelope.Command)
	assert.Equal(t, "42", envelope.Data.AccountID)
	assert.Zero(t, envelope.Data.UnmappedRows)
	require.Len(t, envelope.Data.Campaigns, 1)
	assert.Equal(t, "Spring", envelope.Data.Campaigns[0].Name)
	require.Len(t, envelope.Data.Campaigns[0].Items, 1)
	assert.Equal(t, "item-A", envelope.Data.Campaigns[0].Items[0].ItemID)
}

func TestReportMarkdown(t *testing.T) {
	t.Parallel()

	env := syncedEnv(t)
	stdout, stderr, err := execute(t, NewReportCommand(env.runtime()), "--format", "markdown", "--as-of", "2024-03-30")
	require.NoError(t, err, stderr)
	assert.True(t, strings.HasPrefix(stdout, "# Ads action plan: account 42"), stdout)
}

func TestReportRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"bad format", []string{"--format", "pdf"}, ExitCodeInput, `invalid --format \"pdf\"`},
		{"bad as-of", []string{"--as-of", "yesterday"}, ExitCodeInput, "invalid --as-of"},
		{"bad windows", []string{"--windows", "7,x"}, ExitCodeInput, "invalid window length"},
		{"publish without bucket", []string{"--publish"}, ExitCodeConfig, "--publish requires publish.s3_bucket"},
		{"unknown profile", []string{"--profile", "other"}, ExitCodeInput, `profile \"other\" does not exist`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, "http://127.0.0.1:1")
			_, stderr, err := execute(t, NewReportCommand(env.runtime()), tt.args...)
			requireExitCode(t, err, tt.code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestProfileAccountsMapsKnownProfiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "http://127.0.0.1:1")
	cfg, err := env.runtime().loadConfig()
	require.NoError(t, err)

	accounts := profileAccounts(cfg)
	accountID, err := accounts("shop")
	require.NoError(t, err)
	assert.Equal(t, "42", accountID)

	_, err = accounts("other")
	assert.ErrorContains(t, err, `unknown profile "other"`)
}
