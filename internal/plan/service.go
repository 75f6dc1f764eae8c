package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/catalog"
	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/store"
)

type ReportRequest struct {
	AccountID string
	// AsOf is the last day of every window; zero means today in UTC.
	AsOf    time.Time
	Windows []int
	Errors  []string
}

// Service builds reports from stored rows and the account's catalog.
type Service struct {
	Store   store.Store
	Catalog catalog.Provider
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

func NewService(s store.Store, provider catalog.Provider, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{Store: s, Catalog: provider, Logger: observability.OrDiscard(logger), Metrics: metrics, Now: time.Now}
}

func (s *Service) Build(ctx context.Context, req ReportRequest) (*Report, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if s.Store == nil || s.Catalog == nil {
		return nil, errors.New("report service requires a store and a catalog provider")
	}
	now := s.now()
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	windows, err := Windows(asOf, req.Windows)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.Catalog.Snapshot(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load catalog for account %s: %w", accountID, err)
	}
	index, err := snapshot.Index()
	if err != nil {
		return nil, err
	}

	from, to := Span(windows)
	level := domain.LevelCreative
	rows, err := s.Store.Rows(ctx, store.Query{AccountID: accountID, From: from, To: to, Level: &level})
	if err != nil {
		return nil, fmt.Errorf("load metric rows for account %s: %w", accountID, err)
	}

	aggregation := Aggregate(rows, windows, index.ItemForCreative)
	items := BuildItems(aggregation, index)
	percentiles := ClassifyItems(items)
	s.logSamples(accountID, percentiles)
	for _, item := range items {
		s.Metrics.ObserveDecision(string(item.Decision.Label))
	}

	report := BuildReport(ReportInput{
		AccountID:    accountID,
		AsOf:         asOf,
		GeneratedAt:  now,
		Windows:      windows,
		Items:        items,
		Percentiles:  percentiles,
		UnmappedRows: aggregation.UnmappedRows,
		Errors:       req.Errors,
	})
	s.logger().Info("report built",
		slog.String("account_id", accountID),
		slog.String("as_of", report.AsOf.Format(domain.DateLayout)),
		slog.Int("rows", len(rows)),
		slog.Int("items", len(items)),
		slog.Int("unmapped_rows", aggregation.UnmappedRows),
	)
	return report, nil
}

func (s *Service) logSamples(accountID string, percentiles Percentiles) {
	tiers := []struct {
		metric  string
		tier    Tier
		samples int
	}{
		{"ctr", percentiles.CTR, percentiles.Samples.CTR},
		{"cpc", percentiles.CPC, percentiles.Samples.CPC},
		{"conversion_rate", percentiles.ConversionRate, percentiles.Samples.ConversionRate},
	}
	for _, entry := range tiers {
		if !entry.tier.Missing() {
			continue
		}
		s.logger().Info("insufficient percentile sample; dependent rules will not match",
			slog.String("account_id", accountID),
			slog.String("metric", entry.metric),
			slog.Int("samples", entry.samples),
		)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	return observability.OrDiscard(s.Logger)
}
