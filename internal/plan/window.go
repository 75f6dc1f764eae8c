// Package plan turns stored metric rows into per-item action recommendations.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
)

const (
	ShortWindow = 7
	LongWindow  = 30
)

// DefaultWindowLengths are the trailing windows every report carries.
func DefaultWindowLengths() []int {
	return []int{7, 14, 30}
}

// Window is an inclusive trailing day range ending on AsOf.
type Window struct {
	Days int       `json:"days"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Contains(date time.Time) bool {
	day := domain.Day(date)
	return !day.Before(w.From) && !day.After(w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("%dd %s..%s", w.Days, w.From.Format(domain.DateLayout), w.To.Format(domain.DateLayout))
}

// ParseWindowLengths reads a comma separated list such as "7,14,30". An
// empty value yields nil, which selects the default windows.
func ParseWindowLengths(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		days, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid window length %q", part)
		}
		out = append(out, days)
	}
	return out, nil
}

// Windows builds the trailing windows for asOf. The 7 and 30 day windows
// are required because classification compares them.
func Windows(asOf time.Time, lengths []int) ([]Window, error) {
	if asOf.IsZero() {
		return nil, errors.New("as-of date is required")
	}
	if len(lengths) == 0 {
		lengths = DefaultWindowLengths()
	}
	seen := map[int]struct{}{}
	unique := make([]int, 0, len(lengths))
	for _, days := range lengths {
		if days <= 0 {
			return nil, fmt.Errorf("window length must be positive, got %d", days)
		}
		if _, ok := seen[days]; ok {
			continue
		}
		seen[days] = struct{}{}
		unique = append(unique, days)
	}
	for _, required := range []int{ShortWindow, LongWindow} {
		if _, ok := seen[required]; !ok {
			return nil, fmt.Errorf("window lengths must include %d days", required)
		}
	}
	sort.Ints(unique)

	end := domain.Day(asOf)
	windows := make([]Window, 0, len(unique))
	for _, days := range unique {
		windows = append(windows, Window{Days: days, From: end.AddDate(0, 0, -(days - 1)), To: end})
	}
	return windows, nil
}

// Span is the widest day range the windows cover.
func Span(windows []Window) (time.Time, time.Time) {
	var from, to time.Time
	for i, window := range windows {
		if i == 0 || window.From.Before(from) {
			from = window.From
		}
		if i == 0 || window.To.After(to) {
			to = window.To
		}
	}
	return from, to
}

// Metrics is the summed activity of one item over one window. Ratios are nil
// when their denominator is zero.
type Metrics struct {
	Impressions    int64    `json:"impressions"`
	Clicks         int64    `json:"clicks"`
	Spend          float64  `json:"spend"`
	Sales          float64  `json:"sales"`
	Revenue        float64  `json:"revenue"`
	CTR            *float64 `json:"ctr"`
	CPC            *float64 `json:"cpc"`
	ROAS           *float64 `json:"roas"`
	ACOS           *float64 `json:"acos"`
	ConversionRate *float64 `json:"conversion_rate"`
	CostPerSale    *float64 `json:"cost_per_sale"`
}

func NewMetrics(impressions int64, clicks int64, spend float64, sales float64, revenue float64) Metrics {
	return Metrics{
		Impressions:    impressions,
		Clicks:         clicks,
		Spend:          spend,
		Sales:          sales,
		Revenue:        revenue,
		CTR:            ratio(float64(clicks), float64(impressions)),
		CPC:            ratio(spend, float64(clicks)),
		ROAS:           ratio(revenue, spend),
		ACOS:           ratio(spend, revenue),
		ConversionRate: ratio(sales, float64(clicks)),
		CostPerSale:    ratio(spend, sales),
	}
}

// HasDelivery reports whether anything at all happened in the window.
func (m Metrics) HasDelivery() bool {
	return m.Impressions > 0 || m.Clicks > 0 || m.Spend > 0 || m.Sales > 0 || m.Revenue > 0
}

func ratio(numerator float64, denominator float64) *float64 {
	if denominator == 0 {
		return nil
	}
	value := numerator / denominator
	return &value
}

// ItemKey identifies an item within the campaign that advertises it. An
// empty CampaignID groups rows with no campaign.
type ItemKey struct {
	CampaignID string
	ItemID     string
}

// ItemWindows maps window length in days to the item's metrics.
type ItemWindows map[int]Metrics

func (w ItemWindows) Short() Metrics { return w[ShortWindow] }
func (w ItemWindows) Long() Metrics  { return w[LongWindow] }

type Aggregation struct {
	Items map[ItemKey]ItemWindows
	// UnmappedRows counts creative rows whose creative has no catalog item.
	UnmappedRows int
}

type counters struct {
	impressions int64
	clicks      int64
	spend       float64
	sales       float64
	revenue     float64
}

// Aggregate sums creative-level rows without breakdowns per item for every
// window. itemFor maps an internal creative id to its item id. Every
// aggregated item carries metrics for all windows, zero-valued where it had
// no rows.
func Aggregate(rows []domain.MetricRow, windows []Window, itemFor func(creativeID string) (string, bool)) Aggregation {
	sums := map[ItemKey]map[int]*counters{}
	unmapped := 0
	for _, row := range rows {
		if row.Level != domain.LevelCreative || row.HasBreakdown() {
			continue
		}
		itemID, ok := itemFor(row.CreativeID)
		if !ok || itemID == "" {
			unmapped++
			continue
		}
		key := ItemKey{CampaignID: row.CampaignID, ItemID: itemID}
		for _, window := range windows {
			if !window.Contains(row.Date) {
				continue
			}
			perWindow, ok := sums[key]
			if !ok {
				perWindow = map[int]*counters{}
				sums[key] = perWindow
			}
			c, ok := perWindow[window.Days]
			if !ok {
				c = &counters{}
				perWindow[window.Days] = c
			}
			c.impressions += row.Impressions
			c.clicks += row.Clicks
			c.spend += row.Spend
			c.sales += row.Conversions
			c.revenue += row.ConversionValue
		}
	}

	items := make(map[ItemKey]ItemWindows, len(sums))
	for key, perWindow := range sums {
		metrics := make(ItemWindows, len(windows))
		for _, window := range windows {
			c, ok := perWindow[window.Days]
			if !ok {
				c = &counters{}
			}
			metrics[window.Days] = NewMetrics(c.impressions, c.clicks, c.spend, c.sales, c.revenue)
		}
		items[key] = metrics
	}
	return Aggregation{Items: items, UnmappedRows: unmapped}
}
