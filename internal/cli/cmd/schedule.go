package cmd

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/ingest"
)

// scheduledSync re-syncs every configured profile for the default range on
// each run. serve drives it from a ticker.
type scheduledSync struct {
	runner *ingest.Runner
	cfg    *config.Config
	now    func() time.Time
	logger *slog.Logger
}

// runOnce syncs all profiles. Job errors are logged and returned; the
// schedule keeps going either way.
func (s *scheduledSync) runOnce(ctx context.Context) ([]*ingest.Summary, error) {
	names := make([]string, 0, len(s.cfg.Profiles))
	for name := range s.cfg.Profiles {
		names = append(names, name)
	}
	if len(names) == 0 {
		s.logger.Warn("scheduled sync skipped: no profiles configured")
		return nil, nil
	}
	sort.Strings(names)

	jobs, err := syncJobs(s.cfg, &syncFlags{profiles: names}, s.now())
	if err != nil {
		s.logger.Error("scheduled sync jobs", "error", err)
		return nil, err
	}
	summaries, err := s.runner.RunAll(ctx, jobs)
	if err != nil {
		s.logger.Error("scheduled sync failed", "profiles", len(jobs), "error", err)
		return summaries, err
	}
	s.logger.Info("scheduled sync finished", "profiles", len(jobs))
	return summaries, nil
}

// loop runs a sync immediately and then every interval until ctx ends.
func (s *scheduledSync) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
