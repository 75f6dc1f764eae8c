package store

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/observability"
)

// Batch is the reconciled output of one fetched chunk. Replace is only safe
// when every unit of the chunk succeeded: the stored rows of each day in the
// fetched levels and breakdowns are then replaced wholesale, so rows that
// disappeared upstream are removed. Otherwise rows are upserted one by one.
type Batch struct {
	AccountID     string
	Dates         []time.Time
	Levels        []domain.Level
	BreakdownKeys []string
	Rows          []domain.MetricRow
	Replace       bool
}

type WriteResult struct {
	Written  int
	Failures []*WriteError
}

type Writer struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func NewWriter(store Store, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	return &Writer{Store: store, Logger: observability.OrDiscard(logger), Metrics: metrics}
}

// Write persists the batch. A failing write is retried once; rows that still
// fail are reported and never abort the rest of the batch.
func (w *Writer) Write(ctx context.Context, batch Batch) WriteResult {
	var result WriteResult
	if batch.Replace {
		result = w.replace(ctx, batch)
	} else {
		result = w.upsertEach(ctx, batch.Rows)
	}
	w.Metrics.AddWritten(result.Written)
	w.Metrics.AddWriteFailures(len(result.Failures))
	return result
}

func (w *Writer) replace(ctx context.Context, batch Batch) WriteResult {
	byDate := map[string][]domain.MetricRow{}
	for _, date := range batch.Dates {
		byDate[domain.Day(date).Format(domain.DateLayout)] = nil
	}
	for _, row := range batch.Rows {
		key := row.Date.Format(domain.DateLayout)
		byDate[key] = append(byDate[key], row)
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	result := WriteResult{}
	for _, date := range dates {
		rows := byDate[date]
		day, _ := time.Parse(domain.DateLayout, date)
		scope := Scope{
			AccountID:     batch.AccountID,
			Date:          day,
			Levels:        batch.Levels,
			BreakdownKeys: batch.BreakdownKeys,
		}
		err := w.retryOnce(func() error { return w.Store.ReplaceScope(ctx, scope, rows) })
		if err == nil {
			result.Written += len(rows)
			continue
		}
		if ctx.Err() != nil {
			result.Failures = append(result.Failures, failuresFor(rows, err)...)
			continue
		}
		w.logger().Warn("scope replace failed; falling back to row upserts",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
		fallback := w.upsertEach(ctx, rows)
		result.Written += fallback.Written
		result.Failures = append(result.Failures, fallback.Failures...)
	}
	return result
}

func (w *Writer) upsertEach(ctx context.Context, rows []domain.MetricRow) WriteResult {
	result := WriteResult{}
	for _, row := range rows {
		single := []domain.MetricRow{row}
		err := w.retryOnce(func() error { return w.Store.Upsert(ctx, single) })
		if err != nil {
			writeErr := &WriteError{Key: row.Key(), Err: err}
			w.logger().Error("row write failed", slog.String("key", writeErr.Key.String()), slog.String("error", err.Error()))
			result.Failures = append(result.Failures, writeErr)
			continue
		}
		result.Written++
	}
	return result
}

func (w *Writer) retryOnce(write func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	return write()
}

func (w *Writer) logger() *slog.Logger {
	return observability.OrDiscard(w.Logger)
}

func failuresFor(rows []domain.MetricRow, err error) []*WriteError {
	failures := make([]*WriteError, 0, len(rows))
	for _, row := range rows {
		failures = append(failures, &WriteError{Key: row.Key(), Err: err})
	}
	return failures
}
