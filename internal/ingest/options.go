package ingest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/graph"
	"github.com/bilalbayram/adplan/internal/insights"
)

// OptionsFromConfig maps pipeline settings onto client and fetcher options.
func OptionsFromConfig(p config.Pipeline) Options {
	return Options{
		BaseURL: p.GraphBaseURL,
		HTTP:    &http.Client{Timeout: p.HTTPTimeout},
		Retry: graph.RetryPolicy{
			MaxAttempts:       p.Retry.MaxAttempts,
			BaseDelay:         p.Retry.BaseDelay,
			MaxDelay:          p.Retry.MaxDelay,
			RateLimitCooldown: p.Retry.RateLimitCooldown,
			Classify:          graph.DefaultClassifier,
		},
		RequestDelay: p.RequestDelay,
		CallCooldown: p.CallCooldown,
		ChunkDays:    p.ChunkDays,
		MaxPages:     p.MaxPages,
	}
}

func ParseLevels(values []string) ([]domain.Level, error) {
	if len(values) == 0 {
		return domain.AllLevels(), nil
	}
	out := make([]domain.Level, 0, len(values))
	seen := map[domain.Level]struct{}{}
	for _, value := range values {
		level, err := domain.ParseLevel(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[level]; dup {
			continue
		}
		seen[level] = struct{}{}
		out = append(out, level)
	}
	return out, nil
}

// ResolveBreakdowns picks the breakdowns of a run. Keys given on the command
// line win over configured entries; configured entries with their own
// breakdowns define custom slices, the rest select built-in ones by key.
func ResolveBreakdowns(configured []config.Breakdown, keys []string) ([]insights.BreakdownConfig, error) {
	if len(keys) > 0 {
		return insights.SelectBreakdowns(keys)
	}
	if len(configured) == 0 {
		return insights.SelectBreakdowns(nil)
	}
	out := make([]insights.BreakdownConfig, 0, len(configured))
	for _, entry := range configured {
		if len(entry.Breakdowns) > 0 {
			out = append(out, insights.BreakdownConfig{
				Key:        entry.Key,
				Breakdowns: append([]string(nil), entry.Breakdowns...),
				Dimensions: append([]string(nil), entry.Dimensions...),
			})
			continue
		}
		selected, err := insights.SelectBreakdowns([]string{entry.Key})
		if err != nil {
			return nil, fmt.Errorf("pipeline breakdown: %w", err)
		}
		out = append(out, selected...)
	}
	return out, nil
}
