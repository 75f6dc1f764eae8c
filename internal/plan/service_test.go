package plan

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bilalbayram/adplan/internal/catalog"
	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/resolve"
	"github.com/bilalbayram/adplan/internal/store"
)

func seededService(t *testing.T, logs *bytes.Buffer) *Service {
	t.Helper()
	early := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)

	sliced := creativeRow("camp-1", "cr-a", recent, 500, 50, 50, 5, 5)
	sliced.BreakdownKey = "gender"
	sliced.Dimensions = []domain.Dimension{{Name: "gender", Value: "female"}}

	memory := store.NewMemoryStore()
	if err := memory.Upsert(context.Background(), []domain.MetricRow{
		creativeRow("camp-1", "cr-a", early, 3800, 115, 230, 4, 1164),
		creativeRow("camp-1", "cr-a", recent, 1200, 35, 70, 2, 336),
		creativeRow("camp-1", "cr-b", recent, 5000, 50, 150, 1, 20),
		creativeRow("camp-1", "cr-orphan", recent, 10, 1, 1, 0, 0),
		sliced,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	stock := int64(10)
	snapshots := catalog.StaticProvider{"42": {
		AccountID: "42",
		Items: []domain.CatalogItem{
			{ID: "item-A", ExternalID: "MLB-A", Title: "Trail shoe", Stock: &stock},
			{ID: "item-B", ExternalID: "MLB-B", Title: "Sock"},
		},
		Campaigns: []resolve.CampaignRef{{ExternalID: "100", ID: "camp-1", Name: "Spring"}},
		Creatives: []resolve.CreativeRef{
			{ExternalID: "300", ID: "cr-a", CampaignID: "camp-1", ItemID: "item-A"},
			{ExternalID: "301", ID: "cr-b", CampaignID: "camp-1", ItemID: "item-B"},
		},
	}}
	service := NewService(memory, snapshots, slog.New(slog.NewTextHandler(logs, nil)), nil)
	service.Now = func() time.Time { return asOf }
	return service
}

func TestServiceBuildsReportFromStore(t *testing.T) {
	t.Parallel()

	logs := &bytes.Buffer{}
	report, err := seededService(t, logs).Build(context.Background(), ReportRequest{AccountID: "42"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if report.UnmappedRows != 1 {
		t.Fatalf("expected the orphan creative row to be unmapped, got %d", report.UnmappedRows)
	}
	if len(report.Campaigns) != 1 || report.Campaigns[0].Name != "Spring" {
		t.Fatalf("unexpected campaigns %+v", report.Campaigns)
	}
	if len(report.TopScale) != 1 || report.TopScale[0].ItemID != "item-A" {
		t.Fatalf("expected item-A to scale, got %+v", report.TopScale)
	}
	scaled := report.TopScale[0]
	if scaled.Windows.Long().Revenue != 1500 || scaled.Windows.Short().Spend != 70 {
		t.Fatalf("breakdown rows must not be aggregated: %+v", scaled.Windows)
	}
	if !strings.Contains(scaled.Decision.Reason, "confirms the trend") {
		t.Fatalf("unexpected reason %q", scaled.Decision.Reason)
	}
	if len(report.TopPause) != 1 || report.TopPause[0].ItemID != "item-B" {
		t.Fatalf("expected item-B to pause, got %+v", report.TopPause)
	}
	if report.AsOf.Format(domain.DateLayout) != "2024-03-30" {
		t.Fatalf("as-of defaults to today, got %s", report.AsOf)
	}
	if !strings.Contains(logs.String(), "report built") {
		t.Fatalf("expected a report log line, got %s", logs.String())
	}
}

func TestServiceLogsInsufficientSamples(t *testing.T) {
	t.Parallel()

	logs := &bytes.Buffer{}
	service := seededService(t, logs)
	service.Store = store.NewMemoryStore()
	report, err := service.Build(context.Background(), ReportRequest{AccountID: "42"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(report.Campaigns) != 0 || report.BiggestOpportunity != nil {
		t.Fatalf("empty store yields an empty report, got %+v", report)
	}
	if !strings.Contains(logs.String(), "insufficient percentile sample") {
		t.Fatalf("expected insufficient sample log, got %s", logs.String())
	}
}

func TestServiceRejectsBadRequests(t *testing.T) {
	t.Parallel()

	service := seededService(t, &bytes.Buffer{})
	if _, err := service.Build(context.Background(), ReportRequest{}); err == nil {
		t.Fatal("expected missing account error")
	}
	if _, err := service.Build(context.Background(), ReportRequest{AccountID: "42", Windows: []int{14}}); err == nil {
		t.Fatal("expected window validation error")
	}
	if _, err := service.Build(context.Background(), ReportRequest{AccountID: "nope"}); err == nil {
		t.Fatal("expected catalog error for unknown account")
	}
}
