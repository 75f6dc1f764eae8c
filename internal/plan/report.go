package plan

import (
	"sort"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
)

const (
	UnknownCampaignID = "unknown"
	topScaleLimit     = 10
	topPauseLimit     = 20
)

// ItemReport is one item's windowed metrics plus its decision.
type ItemReport struct {
	ItemID        string      `json:"item_id"`
	SKU           string      `json:"sku,omitempty"`
	Title         string      `json:"title,omitempty"`
	CampaignID    string      `json:"campaign_id,omitempty"`
	CampaignName  string      `json:"campaign_name,omitempty"`
	Price         *float64    `json:"price,omitempty"`
	CategoryID    string      `json:"category_id,omitempty"`
	Stock         *int64      `json:"stock,omitempty"`
	LifetimeSales *int64      `json:"lifetime_sales,omitempty"`
	Status        string      `json:"status,omitempty"`
	Known         bool        `json:"known"`
	Windows       ItemWindows `json:"windows"`
	Decision      Decision    `json:"decision"`
}

func (r *ItemReport) long() Metrics {
	return r.Windows.Long()
}

func (r *ItemReport) catalogItem() *domain.CatalogItem {
	if !r.Known {
		return nil
	}
	return &domain.CatalogItem{
		ID:            r.ItemID,
		SKU:           r.SKU,
		Title:         r.Title,
		Price:         r.Price,
		CategoryID:    r.CategoryID,
		Stock:         r.Stock,
		LifetimeSales: r.LifetimeSales,
		Status:        r.Status,
	}
}

type CampaignGroup struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Spend float64       `json:"spend"`
	Items []*ItemReport `json:"items"`
}

type Totals struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Sales       float64 `json:"sales"`
	Revenue     float64 `json:"revenue"`
}

type Summary struct {
	Totals Totals        `json:"totals"`
	ROAS   *float64      `json:"roas"`
	ACOS   *float64      `json:"acos"`
	Counts map[Label]int `json:"counts"`
}

type Report struct {
	AccountID          string          `json:"account_id"`
	GeneratedAt        time.Time       `json:"generated_at"`
	AsOf               time.Time       `json:"as_of"`
	Windows            []Window        `json:"windows"`
	Summary            Summary         `json:"summary"`
	Percentiles        Percentiles     `json:"percentiles"`
	Campaigns          []CampaignGroup `json:"campaigns"`
	TopScale           []*ItemReport   `json:"top_scale"`
	TopPause           []*ItemReport   `json:"top_pause"`
	Rework             []*ItemReport   `json:"rework"`
	BiggestOpportunity *ItemReport     `json:"biggest_opportunity"`
	UnmappedRows       int             `json:"unmapped_rows"`
	Errors             []string        `json:"errors"`
}

// Catalog is what report building needs to know about items and campaigns.
type Catalog interface {
	Item(id string) (domain.CatalogItem, bool)
	CampaignName(id string) string
}

// BuildItems joins aggregated windows with catalog attributes. Items unknown
// to the catalog are kept with only their id.
func BuildItems(aggregation Aggregation, catalog Catalog) []*ItemReport {
	items := make([]*ItemReport, 0, len(aggregation.Items))
	for key, windows := range aggregation.Items {
		report := &ItemReport{
			ItemID:     key.ItemID,
			CampaignID: key.CampaignID,
			Windows:    windows,
		}
		if catalog != nil {
			if item, ok := catalog.Item(key.ItemID); ok {
				report.Known = true
				report.SKU = item.SKU
				report.Title = item.Title
				report.Price = item.Price
				report.CategoryID = item.CategoryID
				report.Stock = item.Stock
				report.LifetimeSales = item.LifetimeSales
				report.Status = item.Status
			}
			if key.CampaignID != "" {
				report.CampaignName = catalog.CampaignName(key.CampaignID)
			}
		}
		items = append(items, report)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CampaignID != items[j].CampaignID {
			return items[i].CampaignID < items[j].CampaignID
		}
		return items[i].ItemID < items[j].ItemID
	})
	return items
}

// ClassifyItems computes catalog percentiles over the items and attaches a
// decision to each.
func ClassifyItems(items []*ItemReport) Percentiles {
	long := make([]Metrics, 0, len(items))
	for _, item := range items {
		long = append(long, item.long())
	}
	percentiles := ComputePercentiles(long)
	for _, item := range items {
		item.Decision = Classify(item.catalogItem(), item.Windows, percentiles)
	}
	return percentiles
}

type ReportInput struct {
	AccountID    string
	AsOf         time.Time
	GeneratedAt  time.Time
	Windows      []Window
	Items        []*ItemReport
	Percentiles  Percentiles
	UnmappedRows int
	Errors       []string
}

// BuildReport groups classified items by campaign and derives the portfolio
// summary and ranked lists from their 30 day metrics.
func BuildReport(input ReportInput) *Report {
	report := &Report{
		AccountID:    input.AccountID,
		GeneratedAt:  input.GeneratedAt.UTC(),
		AsOf:         domain.Day(input.AsOf),
		Windows:      input.Windows,
		Percentiles:  input.Percentiles,
		UnmappedRows: input.UnmappedRows,
		Errors:       append([]string{}, input.Errors...),
		TopScale:     []*ItemReport{},
		TopPause:     []*ItemReport{},
		Rework:       []*ItemReport{},
	}

	counts := make(map[Label]int, len(Labels()))
	for _, label := range Labels() {
		counts[label] = 0
	}
	var totals Totals
	for _, item := range input.Items {
		long := item.long()
		totals.Impressions += long.Impressions
		totals.Clicks += long.Clicks
		totals.Spend += long.Spend
		totals.Sales += long.Sales
		totals.Revenue += long.Revenue
		counts[item.Decision.Label]++
	}
	report.Summary = Summary{
		Totals: totals,
		ROAS:   ratio(totals.Revenue, totals.Spend),
		ACOS:   ratio(totals.Spend, totals.Revenue),
		Counts: counts,
	}

	byRevenue := sortedItems(input.Items, func(item *ItemReport) float64 { return item.long().Revenue })
	bySpend := sortedItems(input.Items, func(item *ItemReport) float64 { return item.long().Spend })
	byClicks := sortedItems(input.Items, func(item *ItemReport) float64 { return float64(item.long().Clicks) })

	report.TopScale = limit(withLabel(byRevenue, LabelScale), topScaleLimit)
	report.TopPause = limit(withLabel(bySpend, LabelPause), topPauseLimit)
	report.Rework = withLabel(byClicks, LabelRework)

	if rework := withLabel(byRevenue, LabelRework); len(rework) > 0 {
		report.BiggestOpportunity = rework[0]
	} else if len(byRevenue) > 0 {
		report.BiggestOpportunity = byRevenue[0]
	}

	report.Campaigns = groupByCampaign(byRevenue)
	return report
}

func groupByCampaign(byRevenue []*ItemReport) []CampaignGroup {
	index := map[string]int{}
	groups := []CampaignGroup{}
	for _, item := range byRevenue {
		id := item.CampaignID
		if id == "" {
			id = UnknownCampaignID
		}
		position, ok := index[id]
		if !ok {
			position = len(groups)
			index[id] = position
			groups = append(groups, CampaignGroup{ID: id, Name: campaignDisplayName(item)})
		}
		groups[position].Items = append(groups[position].Items, item)
		groups[position].Spend += item.long().Spend
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Spend != groups[j].Spend {
			return groups[i].Spend > groups[j].Spend
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

func campaignDisplayName(item *ItemReport) string {
	switch {
	case item.CampaignName != "":
		return item.CampaignName
	case item.CampaignID != "":
		return "Campaign " + item.CampaignID
	default:
		return "No campaign"
	}
}

// sortedItems orders descending by value with item and campaign ids as the
// tie break.
func sortedItems(items []*ItemReport, value func(*ItemReport) float64) []*ItemReport {
	sorted := append([]*ItemReport(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := value(sorted[i]), value(sorted[j])
		if a != b {
			return a > b
		}
		if sorted[i].ItemID != sorted[j].ItemID {
			return sorted[i].ItemID < sorted[j].ItemID
		}
		return sorted[i].CampaignID < sorted[j].CampaignID
	})
	return sorted
}

func withLabel(items []*ItemReport, label Label) []*ItemReport {
	out := []*ItemReport{}
	for _, item := range items {
		if item.Decision.Label == label {
			out = append(out, item)
		}
	}
	return out
}

func limit(items []*ItemReport, n int) []*ItemReport {
	if len(items) > n {
		return items[:n]
	}
	return items
}
