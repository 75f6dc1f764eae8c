package insights

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
)

var purchaseActionTypes = []string{
	"purchase",
	"offsite_conversion.fb_pixel_purchase",
	"omni_purchase",
}

// parseRow converts one insights item into a metric row. Only the ids that
// belong to the requested level are read, so the row level always matches
// the call that produced it.
func parseRow(item map[string]any, accountID string, level domain.Level, breakdown *BreakdownConfig, fetchedAt time.Time) (domain.MetricRow, error) {
	dateValue := stringValue(item["date_start"])
	date, err := domain.ParseDate(dateValue)
	if err != nil {
		return domain.MetricRow{}, err
	}

	ids := domain.RowIDs{AccountID: accountID}
	if level >= domain.LevelCampaign {
		ids.CampaignID = stringValue(item["campaign_id"])
	}
	if level >= domain.LevelAdGroup {
		ids.AdGroupID = stringValue(item["adset_id"])
	}
	if level >= domain.LevelCreative {
		ids.CreativeID = stringValue(item["ad_id"])
	}
	row := domain.NewMetricRow(ids, date)
	if row.Level != level {
		return domain.MetricRow{}, fmt.Errorf("row for %s level is missing its %s id", level, level)
	}

	row.Impressions = nonNegativeInt(item["impressions"])
	row.Clicks = nonNegativeInt(item["clicks"])
	row.Spend = nonNegativeFloat(item["spend"])
	row.Conversions = actionAmount(item["actions"])
	row.ConversionValue = actionAmount(item["action_values"])
	row.Currency = stringValue(item["account_currency"])
	row.FetchedAt = fetchedAt

	if breakdown != nil {
		row.BreakdownKey = breakdown.Key
		dims := breakdown.dimensions()
		row.Dimensions = make([]domain.Dimension, 0, len(dims))
		for _, name := range dims {
			row.Dimensions = append(row.Dimensions, domain.Dimension{
				Name:  name,
				Value: domain.NormalizeDimension(stringValue(item[name])),
			})
		}
	}
	return row, nil
}

// actionAmount reads the first purchase action type present in an
// actions or action_values list.
func actionAmount(raw any) float64 {
	list, ok := raw.([]any)
	if !ok {
		return 0
	}
	values := make(map[string]float64, len(list))
	for _, entry := range list {
		action, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		actionType := stringValue(action["action_type"])
		if _, seen := values[actionType]; seen {
			continue
		}
		values[actionType] = nonNegativeFloat(action["value"])
	}
	for _, actionType := range purchaseActionTypes {
		if value, ok := values[actionType]; ok {
			return value
		}
	}
	return 0
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

func nonNegativeFloat(value any) float64 {
	var parsed float64
	switch typed := value.(type) {
	case float64:
		parsed = typed
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0
		}
		parsed = f
	default:
		return 0
	}
	if parsed < 0 {
		return 0
	}
	return parsed
}

func nonNegativeInt(value any) int64 {
	return int64(nonNegativeFloat(value))
}
