package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DateLayout   = "2006-01-02"
	UnknownValue = "unknown"
)

// Level is the aggregation depth of a metric row. The numeric value is the
// row's specificity: deeper levels rank higher during reconciliation.
type Level int

const (
	LevelAccount Level = iota
	LevelCampaign
	LevelAdGroup
	LevelCreative
)

var levelNames = map[Level]string{
	LevelAccount:  "account",
	LevelCampaign: "campaign",
	LevelAdGroup:  "adgroup",
	LevelCreative: "creative",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts the internal names plus the Graph API aliases adset and ad.
func ParseLevel(value string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "account":
		return LevelAccount, nil
	case "campaign":
		return LevelCampaign, nil
	case "adgroup", "ad_group", "adset":
		return LevelAdGroup, nil
	case "creative", "ad":
		return LevelCreative, nil
	default:
		return 0, fmt.Errorf("unknown granularity level %q; expected account|campaign|adgroup|creative", value)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func AllLevels() []Level {
	return []Level{LevelAccount, LevelCampaign, LevelAdGroup, LevelCreative}
}

// LevelFor derives the level from the deepest populated id.
func LevelFor(campaignID, adGroupID, creativeID string) Level {
	switch {
	case creativeID != "":
		return LevelCreative
	case adGroupID != "":
		return LevelAdGroup
	case campaignID != "":
		return LevelCampaign
	default:
		return LevelAccount
	}
}

type Dimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetricRow is one daily observation at one granularity level. Empty id
// strings stand for absent ids.
type MetricRow struct {
	AccountID       string      `json:"account_id"`
	CampaignID      string      `json:"campaign_id,omitempty"`
	AdGroupID       string      `json:"ad_group_id,omitempty"`
	CreativeID      string      `json:"creative_id,omitempty"`
	Level           Level       `json:"level"`
	Date            time.Time   `json:"date"`
	Impressions     int64       `json:"impressions"`
	Clicks          int64       `json:"clicks"`
	Spend           float64     `json:"spend"`
	Conversions     float64     `json:"conversions"`
	ConversionValue float64     `json:"conversion_value"`
	Currency        string      `json:"currency,omitempty"`
	BreakdownKey    string      `json:"breakdown_key,omitempty"`
	Dimensions      []Dimension `json:"dimensions,omitempty"`
	FetchedAt       time.Time   `json:"fetched_at"`
}

type RowIDs struct {
	AccountID  string
	CampaignID string
	AdGroupID  string
	CreativeID string
}

// NewMetricRow builds a row and fixes its level from the populated ids.
func NewMetricRow(ids RowIDs, date time.Time) MetricRow {
	ids.CampaignID = strings.TrimSpace(ids.CampaignID)
	ids.AdGroupID = strings.TrimSpace(ids.AdGroupID)
	ids.CreativeID = strings.TrimSpace(ids.CreativeID)
	return MetricRow{
		AccountID:  strings.TrimSpace(ids.AccountID),
		CampaignID: ids.CampaignID,
		AdGroupID:  ids.AdGroupID,
		CreativeID: ids.CreativeID,
		Level:      LevelFor(ids.CampaignID, ids.AdGroupID, ids.CreativeID),
		Date:       Day(date),
	}
}

// EntityID is the id of the entity the row describes at its own level.
func (r MetricRow) EntityID() string {
	switch r.Level {
	case LevelCreative:
		return r.CreativeID
	case LevelAdGroup:
		return r.AdGroupID
	case LevelCampaign:
		return r.CampaignID
	default:
		return r.AccountID
	}
}

func (r MetricRow) HasBreakdown() bool {
	return r.BreakdownKey != ""
}

// DimensionKey serializes breakdown values sorted by dimension name, e.g.
// "age:25-34|gender:female".
func (r MetricRow) DimensionKey() string {
	return DimensionKey(r.Dimensions)
}

func DimensionKey(dimensions []Dimension) string {
	if len(dimensions) == 0 {
		return ""
	}
	sorted := append([]Dimension(nil), dimensions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	parts := make([]string, 0, len(sorted))
	for _, dimension := range sorted {
		parts = append(parts, dimension.Name+":"+dimension.Value)
	}
	return strings.Join(parts, "|")
}

// RowKey is the full dimensional tuple a stored row is unique on.
type RowKey struct {
	AccountID    string
	CampaignID   string
	AdGroupID    string
	CreativeID   string
	Date         string
	BreakdownKey string
	DimensionKey string
}

func (r MetricRow) Key() RowKey {
	return RowKey{
		AccountID:    r.AccountID,
		CampaignID:   r.CampaignID,
		AdGroupID:    r.AdGroupID,
		CreativeID:   r.CreativeID,
		Date:         r.Date.Format(DateLayout),
		BreakdownKey: r.BreakdownKey,
		DimensionKey: r.DimensionKey(),
	}
}

func (k RowKey) String() string {
	return strings.Join([]string{k.AccountID, k.CampaignID, k.AdGroupID, k.CreativeID, k.Date, k.BreakdownKey, k.DimensionKey}, "/")
}

// Day truncates to the UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return parsed, nil
}

// NormalizeDimension returns the sentinel for missing values.
func NormalizeDimension(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return UnknownValue
	}
	return value
}
