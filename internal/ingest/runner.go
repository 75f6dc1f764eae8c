// Package ingest runs account syncs: fetch, resolve, reconcile, store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bilalbayram/adplan/internal/auth"
	"github.com/bilalbayram/adplan/internal/catalog"
	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/graph"
	"github.com/bilalbayram/adplan/internal/insights"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/reconcile"
	"github.com/bilalbayram/adplan/internal/resolve"
	"github.com/bilalbayram/adplan/internal/store"
)

const DefaultConcurrency = 2

// Job is one profile's sync over an inclusive day range.
type Job struct {
	Profile    string
	From       time.Time
	To         time.Time
	Levels     []domain.Level
	Breakdowns []insights.BreakdownConfig
}

// Options tune the per-account Graph client and fetcher.
type Options struct {
	BaseURL      string
	HTTP         graph.HTTPClient
	Retry        graph.RetryPolicy
	RequestDelay time.Duration
	CallCooldown time.Duration
	ChunkDays    int
	MaxPages     int
	// Wait replaces sleeping in the client and fetcher when set.
	Wait func(context.Context, time.Duration) error
}

// Summary is the outcome of one sync run.
type Summary struct {
	RunID         string                 `json:"run_id"`
	Profile       string                 `json:"profile"`
	AccountID     string                 `json:"account_id"`
	From          string                 `json:"from"`
	To            string                 `json:"to"`
	RowsFetched   int                    `json:"rows_fetched"`
	RowsResolved  int                    `json:"rows_resolved"`
	RowsKept      int                    `json:"rows_kept"`
	RowsUpserted  int                    `json:"rows_upserted"`
	Dropped       resolve.DropSummary    `json:"dropped"`
	FailedUnits   []insights.UnitFailure `json:"failed_units"`
	WriteFailures []string               `json:"write_failures"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Error         string                 `json:"error,omitempty"`
}

// Errors lists the failed units and writes as report-ready lines.
func (s *Summary) Errors() []string {
	out := make([]string, 0, len(s.FailedUnits)+len(s.WriteFailures))
	for _, failure := range s.FailedUnits {
		out = append(out, failure.Error())
	}
	return append(out, s.WriteFailures...)
}

type Runner struct {
	Credentials auth.CredentialProvider
	Catalog     catalog.Provider
	Store       store.Store
	Options     Options
	Concurrency int
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time
}

func NewRunner(credentials auth.CredentialProvider, provider catalog.Provider, s store.Store, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		Credentials: credentials,
		Catalog:     provider,
		Store:       s,
		Options: Options{
			Retry:        graph.DefaultRetryPolicy(),
			RequestDelay: graph.DefaultRequestDelay,
			CallCooldown: insights.DefaultCallCooldown,
			ChunkDays:    insights.DefaultChunkDays,
			MaxPages:     graph.DefaultMaxPages,
		},
		Concurrency: DefaultConcurrency,
		Logger:      observability.OrDiscard(logger),
		Metrics:     metrics,
		Now:         time.Now,
	}
}

// Run syncs one profile. Only credential and catalog failures return an
// error; failed units and writes are recorded in the summary.
func (r *Runner) Run(ctx context.Context, job Job) (*Summary, error) {
	started := r.now()
	summary := &Summary{
		RunID:     uuid.NewString(),
		Profile:   job.Profile,
		From:      domain.Day(job.From).Format(domain.DateLayout),
		To:        domain.Day(job.To).Format(domain.DateLayout),
		Dropped:   resolve.DropSummary{},
		StartedAt: started,
	}
	logger := r.logger().With("run_id", summary.RunID, "profile", job.Profile)

	err := r.run(ctx, job, summary, logger)
	summary.FinishedAt = r.now()
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		summary.Error = err.Error()
	case len(summary.FailedUnits) > 0 || len(summary.WriteFailures) > 0:
		outcome = "partial"
	}
	r.Metrics.ObserveSync(outcome, summary.FinishedAt.Sub(started))
	if err != nil {
		logger.Error("sync failed", "error", err)
		return summary, err
	}
	logger.Info("sync finished",
		"account_id", summary.AccountID,
		"rows_fetched", summary.RowsFetched,
		"rows_kept", summary.RowsKept,
		"rows_upserted", summary.RowsUpserted,
		"rows_dropped", summary.Dropped.Total(),
		"failed_units", len(summary.FailedUnits),
		"write_failures", len(summary.WriteFailures),
	)
	return summary, nil
}

func (r *Runner) run(ctx context.Context, job Job, summary *Summary, logger *slog.Logger) error {
	if r.Credentials == nil || r.Catalog == nil || r.Store == nil {
		return errors.New("sync runner requires credentials, a catalog provider and a store")
	}
	if strings.TrimSpace(job.Profile) == "" {
		return errors.New("profile is required")
	}
	creds, err := r.Credentials.Credentials(ctx, job.Profile)
	if err != nil {
		return fmt.Errorf("resolve credentials for profile %q: %w", job.Profile, err)
	}
	accountID := strings.TrimPrefix(strings.TrimSpace(creds.ExternalAccountID), "act_")
	if accountID == "" {
		return fmt.Errorf("profile %q has no account id", job.Profile)
	}
	summary.AccountID = accountID
	logger = logger.With("account_id", accountID)

	snapshot, err := r.Catalog.Snapshot(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load catalog for account %s: %w", accountID, err)
	}
	index, err := snapshot.Index()
	if err != nil {
		return err
	}

	levels := job.Levels
	if len(levels) == 0 {
		levels = domain.AllLevels()
	}
	breakdownKeys := []string{""}
	for _, breakdown := range job.Breakdowns {
		breakdownKeys = append(breakdownKeys, breakdown.Key)
	}

	resolver := resolve.NewResolver(index.Directory(), logger)
	writer := store.NewWriter(r.Store, logger, r.Metrics)
	onChunk := func(chunk insights.ChunkResult) error {
		resolved, dropped := resolver.ResolveRows(chunk.Rows)
		summary.RowsResolved += len(resolved)
		summary.Dropped.Merge(dropped)
		for reason, count := range dropped {
			r.Metrics.AddDropped(reason, count)
		}
		kept := reconcile.Reconcile(resolved)
		summary.RowsKept += len(kept)

		result := writer.Write(ctx, store.Batch{
			AccountID:     accountID,
			Dates:         chunkDays(chunk.Chunk),
			Levels:        levels,
			BreakdownKeys: breakdownKeys,
			Rows:          kept,
			Replace:       !chunk.Failed(),
		})
		summary.RowsUpserted += result.Written
		for _, failure := range result.Failures {
			summary.WriteFailures = append(summary.WriteFailures, failure.Error())
		}
		logger.Debug("chunk stored",
			"chunk_from", chunk.Chunk.From.Format(domain.DateLayout),
			"chunk_to", chunk.Chunk.To.Format(domain.DateLayout),
			"rows", len(kept),
			"replace", !chunk.Failed(),
		)
		return ctx.Err()
	}

	fetcher := r.fetcher(logger)
	result, err := fetcher.FetchRange(ctx, insights.RangeRequest{
		AccountID:  accountID,
		Token:      creds.APIToken,
		AppSecret:  creds.AppSecret,
		Version:    creds.GraphVersion,
		From:       job.From,
		To:         job.To,
		Levels:     levels,
		Breakdowns: job.Breakdowns,
		ChunkDays:  r.Options.ChunkDays,
	}, onChunk)
	if result != nil {
		summary.RowsFetched = result.RowsFetched
		summary.FailedUnits = result.Failures
	}
	return err
}

// RunAll syncs independent jobs concurrently. Each job gets its own client and
// limiter. Summaries keep the order of jobs; a failing job does not stop the
// others and its error is joined into the returned error.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]*Summary, error) {
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	summaries := make([]*Summary, len(jobs))
	errs := make([]error, len(jobs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		group.Go(func() error {
			summaries[i], errs[i] = r.Run(groupCtx, job)
			return nil
		})
	}
	_ = group.Wait()
	return summaries, errors.Join(errs...)
}

func (r *Runner) fetcher(logger *slog.Logger) *insights.Fetcher {
	options := r.Options
	client := graph.NewClient(options.HTTP, options.BaseURL)
	client.Retry = options.Retry
	client.RequestDelay = options.RequestDelay
	if options.Wait != nil {
		client.Wait = options.Wait
	}
	client.OnAttempt = r.Metrics.ObserveGraphAttempt
	client.OnRetry = func(class graph.RetryClass, attempt int, delay time.Duration) {
		r.Metrics.ObserveGraphRetry(class.String())
		logger.Warn("graph call retry scheduled", "class", class.String(), "attempt", attempt, "delay", delay)
	}

	fetcher := insights.New(client, logger)
	fetcher.CallCooldown = options.CallCooldown
	if options.MaxPages > 0 {
		fetcher.MaxPages = options.MaxPages
	}
	if options.Wait != nil {
		fetcher.Wait = options.Wait
	}
	fetcher.Metrics = r.Metrics
	fetcher.Now = r.now
	return fetcher
}

func chunkDays(chunk insights.Chunk) []time.Time {
	var days []time.Time
	for day := domain.Day(chunk.From); !day.After(domain.Day(chunk.To)); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) logger() *slog.Logger {
	return observability.OrDiscard(r.Logger)
}
