package plan

import (
	"math"
	"sort"
)

// Minimum 30 day volume an item needs to contribute a sample.
const (
	MinImpressionsForCTR = 100
	MinClicksForCPC      = 20
	MinClicksForCVR      = 30
)

// Tier holds the quartile cut points of one metric; nil means no sample.
type Tier struct {
	P25 *float64 `json:"p25"`
	P50 *float64 `json:"p50"`
	P75 *float64 `json:"p75"`
}

func (t Tier) Missing() bool {
	return t.P25 == nil || t.P50 == nil || t.P75 == nil
}

type Percentiles struct {
	CTR            Tier `json:"ctr"`
	CPC            Tier `json:"cpc"`
	ConversionRate Tier `json:"conversion_rate"`
	Samples        struct {
		CTR            int `json:"ctr"`
		CPC            int `json:"cpc"`
		ConversionRate int `json:"conversion_rate"`
	} `json:"samples"`
}

// Percentile linearly interpolates between the sorted values bracketing
// index (n-1)*p. It returns nil for an empty input.
func Percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	index := float64(len(sorted)-1) * p
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		value := sorted[lower]
		return &value
	}
	weight := index - float64(lower)
	value := sorted[lower]*(1-weight) + sorted[upper]*weight
	return &value
}

func tierOf(values []float64) Tier {
	return Tier{
		P25: Percentile(values, 0.25),
		P50: Percentile(values, 0.5),
		P75: Percentile(values, 0.75),
	}
}

// ComputePercentiles samples the 30 day ratios of items that clear each
// metric's volume floor.
func ComputePercentiles(long []Metrics) Percentiles {
	var ctrs, cpcs, cvrs []float64
	for _, m := range long {
		if m.Impressions >= MinImpressionsForCTR && m.CTR != nil {
			ctrs = append(ctrs, *m.CTR)
		}
		if m.Clicks >= MinClicksForCPC && m.CPC != nil {
			cpcs = append(cpcs, *m.CPC)
		}
		if m.Clicks >= MinClicksForCVR && m.ConversionRate != nil {
			cvrs = append(cvrs, *m.ConversionRate)
		}
	}
	out := Percentiles{
		CTR:            tierOf(ctrs),
		CPC:            tierOf(cpcs),
		ConversionRate: tierOf(cvrs),
	}
	out.Samples.CTR = len(ctrs)
	out.Samples.CPC = len(cpcs)
	out.Samples.ConversionRate = len(cvrs)
	return out
}
