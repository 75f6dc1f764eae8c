package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/auth"
	"github.com/bilalbayram/adplan/internal/catalog"
	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/graph"
	"github.com/bilalbayram/adplan/internal/ingest"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/store"
)

// DefaultSyncDays is the range synced when --from is omitted.
const DefaultSyncDays = 30

type syncFlags struct {
	profile    string
	profiles   []string
	from       string
	to         string
	levels     []string
	breakdowns []string
}

func NewSyncCommand(runtime Runtime) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch insights for one or more profiles into the metrics store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, runtime, flags)
		},
	}
	cmd.Flags().StringVar(&flags.profile, "profile", "", "Profile to sync (default: default_profile)")
	cmd.Flags().StringSliceVar(&flags.profiles, "profiles", nil, "Comma-separated profiles to sync concurrently")
	cmd.Flags().StringVar(&flags.from, "from", "", "First day to sync, YYYY-MM-DD (default: 30 days before --to)")
	cmd.Flags().StringVar(&flags.to, "to", "", "Last day to sync, YYYY-MM-DD (default: yesterday)")
	cmd.Flags().StringSliceVar(&flags.levels, "levels", nil, "Levels: account,campaign,adgroup,creative (default: pipeline.levels)")
	cmd.Flags().StringSliceVar(&flags.breakdowns, "breakdowns", nil, "Breakdown keys, for example age,gender or country")
	return cmd
}

func runSync(cmd *cobra.Command, runtime Runtime, flags *syncFlags) error {
	const commandName = "adplan sync"

	cfg, err := runtime.loadConfig()
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}
	jobs, err := syncJobs(cfg, flags, runtime.now())
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, err))
	}
	logger, err := runtime.logger(cmd, cfg)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}

	ctx := cmd.Context()
	s, err := runtime.openStore(ctx, cfg, false)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, nil, err)
	}
	defer s.Close()

	provider, closeCatalog := catalogProvider(cfg, logger)
	defer closeCatalog()

	runner := newSyncRunner(runtime, cfg, provider, s, logger, nil)
	summaries, err := runner.RunAll(ctx, jobs)
	if err != nil {
		return writeCommandError(cmd, runtime, commandName, summaries, WrapExit(ExitCodeAPI, err))
	}
	warnings := versionWarnings(cfg, jobs, runtime.now())
	for _, summary := range summaries {
		for _, line := range summary.Errors() {
			warnings = append(warnings, fmt.Sprintf("%s: %s", summary.Profile, line))
		}
	}
	return writeSuccess(cmd, runtime, commandName, summaries, warnings)
}

// newSyncRunner wires the ingest runner from config. A nil metrics leaves the
// run uninstrumented.
func newSyncRunner(runtime Runtime, cfg *config.Config, provider catalog.Provider, s store.Store, logger *slog.Logger, metrics *observability.Metrics) *ingest.Runner {
	credentials := auth.NewKeychainCredentialProvider(cfg, runtime.secrets())
	runner := ingest.NewRunner(credentials, provider, s, logger, metrics)
	runner.Options = ingest.OptionsFromConfig(cfg.Pipeline)
	runner.Concurrency = cfg.Pipeline.Concurrency
	if runtime.Now != nil {
		runner.Now = runtime.Now
	}
	return runner
}

func syncJobs(cfg *config.Config, flags *syncFlags, now time.Time) ([]ingest.Job, error) {
	to := domain.Day(now).AddDate(0, 0, -1)
	if strings.TrimSpace(flags.to) != "" {
		parsed, err := domain.ParseDate(flags.to)
		if err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -(DefaultSyncDays - 1))
	if strings.TrimSpace(flags.from) != "" {
		parsed, err := domain.ParseDate(flags.from)
		if err != nil {
			return nil, fmt.Errorf("invalid --from: %w", err)
		}
		from = parsed
	}
	if from.After(to) {
		return nil, errors.New("--from must not be after --to")
	}

	levelNames := flags.levels
	if len(levelNames) == 0 {
		levelNames = cfg.Pipeline.Levels
	}
	levels, err := ingest.ParseLevels(levelNames)
	if err != nil {
		return nil, err
	}
	breakdowns, err := ingest.ResolveBreakdowns(cfg.Pipeline.Breakdowns, flags.breakdowns)
	if err != nil {
		return nil, err
	}

	names := append([]string(nil), flags.profiles...)
	if strings.TrimSpace(flags.profile) != "" {
		names = append([]string{flags.profile}, names...)
	}
	if len(names) == 0 {
		names = []string{""}
	}

	jobs := make([]ingest.Job, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		resolved, _, err := cfg.ResolveProfile(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		jobs = append(jobs, ingest.Job{
			Profile:    resolved,
			From:       from,
			To:         to,
			Levels:     levels,
			Breakdowns: breakdowns,
		})
	}
	return jobs, nil
}

func versionWarnings(cfg *config.Config, jobs []ingest.Job, now time.Time) []string {
	var warnings []string
	for _, job := range jobs {
		status, ok := graph.CheckVersion(cfg.Profiles[job.Profile].GraphVersion, now)
		if !ok {
			continue
		}
		if warning := status.Warning(); warning != "" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", job.Profile, warning))
		}
	}
	return warnings
}
