package resolve

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	directory, err := NewDirectory(
		[]CampaignRef{{ExternalID: "ext-c1", ID: "camp-1", Name: "Spring"}},
		[]AdGroupRef{{ExternalID: "ext-g1", ID: "grp-1", CampaignID: "camp-1"}},
		[]CreativeRef{{ExternalID: "ext-a1", ID: "cr-1", AdGroupID: "grp-1", CampaignID: "camp-1", ItemID: "item-1"}},
	)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return directory
}

func row(ids domain.RowIDs) domain.MetricRow {
	r := domain.NewMetricRow(ids, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	r.Spend = 10
	return r
}

func TestResolveRowsMapsIdsAndKeepsAccountRows(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(testDirectory(t), nil)
	rows, drops := resolver.ResolveRows([]domain.MetricRow{
		row(domain.RowIDs{AccountID: "42"}),
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-c1"}),
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-c1", AdGroupID: "ext-g1"}),
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-c1", AdGroupID: "ext-g1", CreativeID: "ext-a1"}),
	})
	if drops.Total() != 0 {
		t.Fatalf("unexpected drops %v", drops)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	creative := rows[3]
	if creative.CampaignID != "camp-1" || creative.AdGroupID != "grp-1" || creative.CreativeID != "cr-1" {
		t.Fatalf("unexpected creative ids %#v", creative)
	}
	if creative.Level != domain.LevelCreative {
		t.Fatalf("level must survive resolution, got %s", creative.Level)
	}
}

func TestResolveRowsDropsUnresolvedCampaignAndCounts(t *testing.T) {
	t.Parallel()

	logs := &bytes.Buffer{}
	resolver := NewResolver(testDirectory(t), slog.New(slog.NewTextHandler(logs, nil)))
	rows, drops := resolver.ResolveRows([]domain.MetricRow{
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-missing"}),
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-c1"}),
		row(domain.RowIDs{AccountID: "42", CampaignID: "ext-c1", AdGroupID: "ext-g1", CreativeID: "ext-gone"}),
	})
	if len(rows) != 1 {
		t.Fatalf("expected only the resolvable row, got %d", len(rows))
	}
	if drops[ReasonUnresolvedCampaign] != 1 || drops[ReasonUnresolvedCreative] != 1 {
		t.Fatalf("unexpected drop summary %v", drops)
	}
	lines := drops.Lines()
	if len(lines) != 2 || lines[0] != "1 rows dropped: unresolved campaign id" {
		t.Fatalf("unexpected summary lines %v", lines)
	}
	if !strings.Contains(logs.String(), "external_id=ext-missing") {
		t.Fatalf("drop must be logged with the external id, got %s", logs.String())
	}
}

func TestResolveUnknownKind(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(testDirectory(t), nil)
	if _, ok := resolver.Resolve("ext-c1", domain.LevelAccount); ok {
		t.Fatal("account ids are not resolved")
	}
	if id, ok := resolver.Resolve("ext-a1", domain.LevelCreative); !ok || id != "cr-1" {
		t.Fatalf("unexpected creative resolution %q %v", id, ok)
	}
}

func TestNewDirectoryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewDirectory([]CampaignRef{{ExternalID: "x", ID: "1"}, {ExternalID: "x", ID: "2"}}, nil, nil)
	if err == nil {
		t.Fatal("expected duplicate external id error")
	}
}

func TestDirectoryItemForCreative(t *testing.T) {
	t.Parallel()

	directory := testDirectory(t)
	if item, ok := directory.ItemForCreative("cr-1"); !ok || item != "item-1" {
		t.Fatalf("unexpected item %q %v", item, ok)
	}
	if directory.CampaignName("camp-1") != "Spring" {
		t.Fatalf("unexpected campaign name")
	}
	var empty *Directory
	if _, ok := empty.ItemForCreative("cr-1"); ok {
		t.Fatal("nil directory resolves nothing")
	}
}
