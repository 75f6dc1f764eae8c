package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/graph"
	"github.com/bilalbayram/adplan/internal/observability"
)

const (
	DefaultChunkDays    = 7
	DefaultCallCooldown = time.Second

	FailureFatal          = "fatal"
	FailureRetryExhausted = "retry_exhausted"
	FailureCanceled       = "canceled"
)

var baseFields = []string{
	"account_id",
	"account_currency",
	"date_start",
	"date_stop",
	"impressions",
	"clicks",
	"spend",
	"actions",
	"action_values",
}

var levelFields = map[domain.Level][]string{
	domain.LevelAccount:  nil,
	domain.LevelCampaign: {"campaign_id"},
	domain.LevelAdGroup:  {"campaign_id", "adset_id"},
	domain.LevelCreative: {"campaign_id", "adset_id", "ad_id"},
}

var graphLevels = map[domain.Level]string{
	domain.LevelAccount:  "account",
	domain.LevelCampaign: "campaign",
	domain.LevelAdGroup:  "adset",
	domain.LevelCreative: "ad",
}

type RangeRequest struct {
	AccountID  string
	Token      string
	AppSecret  string
	Version    string
	From       time.Time
	To         time.Time
	Levels     []domain.Level
	Breakdowns []BreakdownConfig
	ChunkDays  int
}

type Chunk struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (c Chunk) String() string {
	return c.From.Format(domain.DateLayout) + ".." + c.To.Format(domain.DateLayout)
}

// Unit is one (chunk, level, breakdown) call. An empty Breakdown is the
// un-broken-down fetch.
type Unit struct {
	Chunk     Chunk        `json:"chunk"`
	Level     domain.Level `json:"level"`
	Breakdown string       `json:"breakdown,omitempty"`
}

func (u Unit) String() string {
	breakdown := u.Breakdown
	if breakdown == "" {
		breakdown = "none"
	}
	return fmt.Sprintf("%s level=%s breakdown=%s", u.Chunk, u.Level, breakdown)
}

type UnitFailure struct {
	Unit
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (f UnitFailure) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", f.Unit, f.Kind, f.Reason)
}

func (f UnitFailure) Unwrap() error {
	return f.Err
}

type ChunkResult struct {
	Chunk     Chunk              `json:"chunk"`
	Rows      []domain.MetricRow `json:"-"`
	Failures  []UnitFailure      `json:"failures,omitempty"`
	Truncated []Unit             `json:"truncated,omitempty"`
	Skipped   int                `json:"skipped_rows,omitempty"`
	Calls     int                `json:"calls"`
}

func (r ChunkResult) Failed() bool {
	return len(r.Failures) > 0
}

type RangeResult struct {
	Chunks      []ChunkResult `json:"chunks"`
	RowsFetched int           `json:"rows_fetched"`
	Failures    []UnitFailure `json:"failures,omitempty"`
}

// Rows flattens every chunk in order.
func (r *RangeResult) Rows() []domain.MetricRow {
	if r == nil {
		return nil
	}
	out := make([]domain.MetricRow, 0, r.RowsFetched)
	for _, chunk := range r.Chunks {
		out = append(out, chunk.Rows...)
	}
	return out
}

// Fetcher walks (chunk × level × breakdown) units one call at a time with a
// cooldown between calls. A failed unit is recorded and skipped.
type Fetcher struct {
	Client       *graph.Client
	CallCooldown time.Duration
	MaxPages     int
	Wait         func(context.Context, time.Duration) error
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

func New(client *graph.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = graph.NewClient(nil, "")
	}
	return &Fetcher{
		Client:       client,
		CallCooldown: DefaultCallCooldown,
		MaxPages:     graph.DefaultMaxPages,
		Wait:         graph.SleepContext,
		Now:          time.Now,
		Logger:       observability.OrDiscard(logger),
	}
}

// Chunks splits the inclusive [from, to] day range into sub-ranges of at
// most days days.
func Chunks(from time.Time, to time.Time, days int) []Chunk {
	if days <= 0 {
		days = DefaultChunkDays
	}
	from = domain.Day(from)
	to = domain.Day(to)
	out := make([]Chunk, 0)
	for cursor := from; !cursor.After(to); {
		end := cursor.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		out = append(out, Chunk{From: cursor, To: end})
		cursor = end.AddDate(0, 0, 1)
	}
	return out
}

func (r RangeRequest) validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return errors.New("account id is required")
	}
	if strings.TrimSpace(r.Token) == "" {
		return errors.New("access token is required")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("date range is required")
	}
	if domain.Day(r.To).Before(domain.Day(r.From)) {
		return fmt.Errorf("date range end %s is before start %s", r.To.Format(domain.DateLayout), r.From.Format(domain.DateLayout))
	}
	if len(r.Levels) == 0 {
		return errors.New("at least one level is required")
	}
	for _, level := range r.Levels {
		if _, ok := graphLevels[level]; !ok {
			return fmt.Errorf("unsupported level %s", level)
		}
	}
	for _, breakdown := range r.Breakdowns {
		if err := validateBreakdown(breakdown); err != nil {
			return err
		}
	}
	return nil
}

// FetchRange fetches every chunk of the request. When onChunk is set it
// receives each chunk as soon as the chunk is complete; returning an error
// from it stops the range. The returned error is non-nil only for an invalid
// request, a callback error or cancellation.
func (f *Fetcher) FetchRange(ctx context.Context, req RangeRequest, onChunk func(ChunkResult) error) (*RangeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	result := &RangeResult{}
	for i, chunk := range Chunks(req.From, req.To, req.ChunkDays) {
		if i > 0 {
			if err := f.cooldown(ctx); err != nil {
				return result, err
			}
		}
		chunkResult, err := f.FetchChunk(ctx, req, chunk)
		result.Chunks = append(result.Chunks, chunkResult)
		result.RowsFetched += len(chunkResult.Rows)
		result.Failures = append(result.Failures, chunkResult.Failures...)
		if err != nil {
			return result, err
		}
		if onChunk != nil {
			if err := onChunk(chunkResult); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

// FetchChunk runs every (level, breakdown) unit of one chunk sequentially.
func (f *Fetcher) FetchChunk(ctx context.Context, req RangeRequest, chunk Chunk) (ChunkResult, error) {
	result := ChunkResult{Chunk: chunk}
	units := make([]Unit, 0, len(req.Levels)*(len(req.Breakdowns)+1))
	configs := map[string]*BreakdownConfig{}
	for _, level := range req.Levels {
		units = append(units, Unit{Chunk: chunk, Level: level})
		for i := range req.Breakdowns {
			config := &req.Breakdowns[i]
			configs[config.Key] = config
			units = append(units, Unit{Chunk: chunk, Level: level, Breakdown: config.Key})
		}
	}

	for i, unit := range units {
		if i > 0 {
			if err := f.cooldown(ctx); err != nil {
				result.Failures = append(result.Failures, canceledFailures(units[i:], err)...)
				return result, err
			}
		}
		result.Calls++
		rows, pagination, skipped, err := f.fetchUnit(ctx, req, unit, configs[unit.Breakdown])
		logger := f.logger().With(
			"account_id", req.AccountID,
			"level", unit.Level.String(),
			"breakdown", unit.Breakdown,
			"chunk_from", chunk.From.Format(domain.DateLayout),
			"chunk_to", chunk.To.Format(domain.DateLayout),
		)
		if err != nil {
			failure := newUnitFailure(unit, err)
			result.Failures = append(result.Failures, failure)
			f.Metrics.ObserveUnit(unit.Level.String(), failure.Kind, 0)
			if failure.Kind == FailureRetryExhausted {
				logger.Warn("insights unit exhausted retries", "kind", failure.Kind, "error", failure.Reason)
			} else {
				logger.Error("insights unit failed", "kind", failure.Kind, "error", failure.Reason)
			}
			if failure.Kind == FailureCanceled {
				result.Failures = append(result.Failures, canceledFailures(units[i+1:], err)...)
				return result, err
			}
			continue
		}
		if pagination != nil && pagination.Truncated {
			result.Truncated = append(result.Truncated, unit)
			logger.Warn("insights unit hit the page ceiling", "pages", pagination.PagesFetched)
		}
		result.Rows = append(result.Rows, rows...)
		result.Skipped += skipped
		f.Metrics.ObserveUnit(unit.Level.String(), "ok", len(rows))
		logger.Debug("insights unit fetched", "rows", len(rows), "skipped", skipped)
	}
	return result, nil
}

func (f *Fetcher) fetchUnit(ctx context.Context, req RangeRequest, unit Unit, breakdown *BreakdownConfig) ([]domain.MetricRow, *graph.PaginationResult, int, error) {
	query, err := unitQuery(unit, breakdown)
	if err != nil {
		return nil, nil, 0, err
	}
	items, pagination, err := f.Client.FetchAll(ctx, graph.Request{
		Method:      "GET",
		Path:        fmt.Sprintf("act_%s/insights", strings.TrimPrefix(req.AccountID, "act_")),
		Version:     req.Version,
		Query:       query,
		AccessToken: req.Token,
		AppSecret:   req.AppSecret,
	}, graph.PaginationOptions{
		FollowNext: true,
		MaxPages:   f.MaxPages,
	})
	if err != nil {
		return nil, nil, 0, err
	}

	fetchedAt := f.now().UTC()
	rows := make([]domain.MetricRow, 0, len(items))
	skipped := 0
	for _, item := range items {
		row, err := parseRow(item, req.AccountID, unit.Level, breakdown, fetchedAt)
		if err != nil {
			skipped++
			f.logger().Warn("skipping unparseable insights row", "account_id", req.AccountID, "level", unit.Level.String(), "error", err.Error())
			continue
		}
		rows = append(rows, row)
	}
	return rows, pagination, skipped, nil
}

func unitQuery(unit Unit, breakdown *BreakdownConfig) (map[string]string, error) {
	fields := append(append([]string(nil), baseFields...), levelFields[unit.Level]...)
	timeRange, err := json.Marshal(struct {
		Since string `json:"since"`
		Until string `json:"until"`
	}{
		Since: unit.Chunk.From.Format(domain.DateLayout),
		Until: unit.Chunk.To.Format(domain.DateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("encode time_range: %w", err)
	}
	query := map[string]string{
		"level":          graphLevels[unit.Level],
		"fields":         strings.Join(fields, ","),
		"time_range":     string(timeRange),
		"time_increment": "1",
	}
	if breakdown != nil {
		query["breakdowns"] = strings.Join(breakdown.Breakdowns, ",")
	}
	return query, nil
}

func newUnitFailure(unit Unit, err error) UnitFailure {
	kind := FailureFatal
	var exhausted *graph.RetryExhaustedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = FailureCanceled
	case errors.As(err, &exhausted):
		kind = FailureRetryExhausted
	}
	return UnitFailure{Unit: unit, Kind: kind, Reason: err.Error(), Err: err}
}

func canceledFailures(units []Unit, err error) []UnitFailure {
	out := make([]UnitFailure, 0, len(units))
	for _, unit := range units {
		out = append(out, UnitFailure{Unit: unit, Kind: FailureCanceled, Reason: err.Error(), Err: err})
	}
	return out
}

func (f *Fetcher) cooldown(ctx context.Context) error {
	if f.CallCooldown <= 0 {
		return ctx.Err()
	}
	if f.Wait == nil {
		return graph.SleepContext(ctx, f.CallCooldown)
	}
	return f.Wait(ctx, f.CallCooldown)
}

func (f *Fetcher) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func (f *Fetcher) logger() *slog.Logger {
	return observability.OrDiscard(f.Logger)
}
