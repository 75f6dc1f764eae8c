package plan

import (
	"fmt"

	"github.com/bilalbayram/adplan/internal/domain"
)

type Label string

const (
	LabelScale            Label = "SCALE"
	LabelPause            Label = "PAUSE"
	LabelReduce           Label = "REDUCE"
	LabelRework           Label = "REWORK"
	LabelMaintain         Label = "MAINTAIN"
	LabelInsufficientData Label = "INSUFFICIENT_DATA"
)

// Labels lists every label in report order.
func Labels() []Label {
	return []Label{LabelScale, LabelMaintain, LabelReduce, LabelRework, LabelPause, LabelInsufficientData}
}

const (
	DataStatusOK           = "ok"
	DataStatusInsufficient = "insufficient"
)

// Fixed rule thresholds.
const (
	pauseClicksFloor    = 60
	pauseSpendFloor     = 40.0
	pauseACOSCeiling    = 0.6
	pauseMaxSales       = 2
	reworkConvertClicks = 30
	reworkAttractClicks = 20
	scaleMinSales       = 5
	scaleMinROAS        = 4.0
	scaleMaxACOS        = 0.25
	scaleCPCTolerance   = 1.2
	maintainMinSales    = 2
	maintainMinROAS     = 3.0
	maintainMaxACOS     = 0.33
	trendROASFloor      = 0.9
	trendACOSCeiling    = 1.1
)

type Decision struct {
	Label      Label  `json:"label"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	TrendOK    *bool  `json:"trend_ok"`
	DataStatus string `json:"data_status"`
}

// TrendOK compares the short window against the long one. ROAS is used when
// both windows have it, ACOS otherwise. It is nil when either window has
// neither ratio.
func TrendOK(short Metrics, long Metrics) *bool {
	if (short.ACOS == nil && short.ROAS == nil) || (long.ACOS == nil && long.ROAS == nil) {
		return nil
	}
	if short.ROAS != nil && long.ROAS != nil {
		ok := *short.ROAS >= *long.ROAS*trendROASFloor
		return &ok
	}
	if short.ACOS != nil && long.ACOS != nil {
		ok := *short.ACOS <= *long.ACOS*trendACOSCeiling
		return &ok
	}
	return nil
}

// Classify runs the rule chain for one item; the first matching rule wins.
// item is nil when the catalog does not know the item. A comparison against
// a missing percentile never matches.
func Classify(item *domain.CatalogItem, windows ItemWindows, percentiles Percentiles) Decision {
	short := windows.Short()
	long := windows.Long()
	trend := TrendOK(short, long)
	decide := func(label Label, action string, reason string) Decision {
		return Decision{Label: label, Action: action, Reason: reason, TrendOK: trend, DataStatus: DataStatusOK}
	}

	if !long.HasDelivery() {
		return Decision{
			Label:      LabelInsufficientData,
			Action:     "Collect data; nothing was delivered in the period.",
			Reason:     "No delivery or metrics in the last 30 days.",
			TrendOK:    trend,
			DataStatus: DataStatusInsufficient,
		}
	}

	if item != nil && item.Stock != nil && *item.Stock <= 0 {
		return decide(LabelPause, "Pause ads until stock is replenished.",
			fmt.Sprintf("Out of stock (stock %d).", *item.Stock))
	}

	if long.Sales == 0 && (long.Clicks >= pauseClicksFloor || long.Spend >= pauseSpendFloor) {
		return decide(LabelPause, "Pause ads and test the item organically.",
			fmt.Sprintf("0 sales with %d clicks and %s spend.", long.Clicks, formatMoney(&long.Spend)))
	}

	if long.ACOS != nil && *long.ACOS > pauseACOSCeiling && long.Sales < pauseMaxSales {
		return decide(LabelPause, "Pause ads and review demand.",
			fmt.Sprintf("High ACOS (%s) with only %s sales.", formatPercent(long.ACOS), formatCount(long.Sales)))
	}

	if item != nil && item.LifetimeSales != nil && *item.LifetimeSales == 0 && long.Sales == 0 && (long.Clicks > 0 || long.Spend > 0) {
		return decide(LabelPause, "Pause ads and validate demand organically.",
			fmt.Sprintf("No lifetime sales while ads spent %s over %d clicks.", formatMoney(&long.Spend), long.Clicks))
	}

	ctr := percentiles.CTR
	cvr := percentiles.ConversionRate
	cpc := percentiles.CPC

	if long.Clicks >= reworkConvertClicks && atLeast(long.CTR, ctr.P50) && atMost(long.ConversionRate, cvr.P25) {
		return decide(LabelRework, "Review title, photos, price and category of the listing.",
			fmt.Sprintf("CTR %s is at or above the median %s but conversion %s is at or below p25 %s over %d clicks.",
				formatPercent(long.CTR), formatPercent(ctr.P50), formatPercent(long.ConversionRate), formatPercent(cvr.P25), long.Clicks))
	}

	if long.Clicks >= reworkAttractClicks && atMost(long.CTR, ctr.P25) && atLeast(long.CPC, cpc.P75) {
		return decide(LabelRework, "Review creative, title and category (low CTR with high CPC).",
			fmt.Sprintf("CTR %s is at or below p25 %s while CPC %s is at or above p75 %s.",
				formatPercent(long.CTR), formatPercent(ctr.P25), formatMoney(long.CPC), formatMoney(cpc.P75)))
	}

	profitable := long.Sales >= scaleMinSales &&
		((long.ROAS != nil && *long.ROAS >= scaleMinROAS) || (long.ACOS != nil && *long.ACOS <= scaleMaxACOS))
	cpcAcceptable := long.CPC == nil || cpc.P50 == nil || *long.CPC <= *cpc.P50*scaleCPCTolerance

	if profitable && cpcAcceptable && trend != nil && *trend {
		return decide(LabelScale, "Increase budget or bid cap by 10-20% and monitor for 7 days.",
			fmt.Sprintf("ROAS %s and ACOS %s over %s sales; 7d ROAS %s confirms the trend.",
				formatNumber(long.ROAS), formatPercent(long.ACOS), formatCount(long.Sales), formatTrendValue(short)))
	}

	if profitable && (trend == nil || !*trend) {
		state := "is not confirmed"
		if trend == nil {
			state = "is indeterminate"
		}
		return decide(LabelMaintain, "Maintain and reassess the 7d trend before scaling.",
			fmt.Sprintf("ROAS %s over %s sales but the 7d trend (%s) %s.",
				formatNumber(long.ROAS), formatCount(long.Sales), formatTrendValue(short), state))
	}

	moderateROAS := long.ROAS != nil && *long.ROAS >= maintainMinROAS && *long.ROAS < scaleMinROAS
	moderateACOS := long.ACOS != nil && *long.ACOS >= scaleMaxACOS && *long.ACOS <= maintainMaxACOS
	if long.Sales >= maintainMinSales && (moderateROAS || moderateACOS) {
		return decide(LabelMaintain, "Maintain and test light adjustments.",
			fmt.Sprintf("Moderate profitability: ROAS %s, ACOS %s over %s sales.",
				formatNumber(long.ROAS), formatPercent(long.ACOS), formatCount(long.Sales)))
	}

	if long.Sales > 0 && ((long.ROAS != nil && *long.ROAS < maintainMinROAS) || (long.ACOS != nil && *long.ACOS > maintainMaxACOS)) {
		return decide(LabelReduce, "Reduce exposure and move to a test campaign if needed.",
			fmt.Sprintf("Sells but ROAS %s and ACOS %s are below target.", formatNumber(long.ROAS), formatPercent(long.ACOS)))
	}

	return decide(LabelMaintain, "Maintain and collect more data.",
		fmt.Sprintf("No strong signal to scale or pause (%d clicks, %s spend, %s sales).",
			long.Clicks, formatMoney(&long.Spend), formatCount(long.Sales)))
}

func atLeast(value *float64, bound *float64) bool {
	return value != nil && bound != nil && *value >= *bound
}

func atMost(value *float64, bound *float64) bool {
	return value != nil && bound != nil && *value <= *bound
}

func formatTrendValue(short Metrics) string {
	if short.ROAS != nil {
		return formatNumber(short.ROAS)
	}
	return "ACOS " + formatPercent(short.ACOS)
}

func formatPercent(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *value*100)
}

func formatMoney(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

func formatNumber(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

func formatCount(value float64) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%.2f", value)
}
