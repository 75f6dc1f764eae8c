package plan

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/osteele/liquid"
)

//go:embed templates/report.md.liquid
var reportTemplate string

var (
	renderOnce   sync.Once
	renderEngine *liquid.Engine
	renderTpl    *liquid.Template
	renderErr    error
)

func markdownTemplate() (*liquid.Template, error) {
	renderOnce.Do(func() {
		renderEngine = liquid.NewEngine()
		registerFilters(renderEngine)
		tpl, err := renderEngine.ParseString(reportTemplate)
		if err != nil {
			renderErr = fmt.Errorf("parse report template: %w", err)
			return
		}
		renderTpl = tpl
	})
	return renderTpl, renderErr
}

func registerFilters(engine *liquid.Engine) {
	engine.RegisterFilter("percent", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return "-"
		}
		return formatPercent(&f)
	})
	engine.RegisterFilter("money", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return "-"
		}
		return formatMoney(&f)
	})
	engine.RegisterFilter("number", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return "-"
		}
		return formatNumber(&f)
	})
	engine.RegisterFilter("count", func(value interface{}) string {
		f, ok := toFloat(value)
		if !ok {
			return "0"
		}
		return formatCount(f)
	})
	// cell keeps a value from breaking a Markdown table row.
	engine.RegisterFilter("cell", func(value interface{}) string {
		if value == nil {
			return "-"
		}
		text := strings.TrimSpace(fmt.Sprintf("%v", value))
		if text == "" {
			return "-"
		}
		text = strings.ReplaceAll(text, "|", "\\|")
		return strings.ReplaceAll(text, "\n", " ")
	})
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case *float64:
		if v == nil {
			return 0, false
		}
		return *v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// RenderMarkdown renders the report as the Markdown action plan.
func RenderMarkdown(report *Report) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is nil")
	}
	tpl, err := markdownTemplate()
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(reportBindings(report))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

func reportBindings(report *Report) map[string]interface{} {
	windows := make([]string, 0, len(report.Windows))
	for _, window := range report.Windows {
		windows = append(windows, window.String())
	}

	campaigns := make([]map[string]interface{}, 0, len(report.Campaigns))
	for _, campaign := range report.Campaigns {
		campaigns = append(campaigns, map[string]interface{}{
			"id":    campaign.ID,
			"name":  campaign.Name,
			"spend": campaign.Spend,
			"items": itemBindings(campaign.Items),
		})
	}

	biggest := "n/a"
	if item := report.BiggestOpportunity; item != nil {
		biggest = strings.TrimSpace(item.ItemID + " " + item.Title)
	}

	errors := append([]string{}, report.Errors...)
	return map[string]interface{}{
		"account_id":   report.AccountID,
		"generated_at": report.GeneratedAt.Format("2006-01-02 15:04 MST"),
		"as_of":        report.AsOf.Format(domain.DateLayout),
		"windows":      strings.Join(windows, ", "),
		"summary": map[string]interface{}{
			"roas":    optional(report.Summary.ROAS),
			"acos":    optional(report.Summary.ACOS),
			"spend":   report.Summary.Totals.Spend,
			"revenue": report.Summary.Totals.Revenue,
			"sales":   report.Summary.Totals.Sales,
		},
		"scale_count":         report.Summary.Counts[LabelScale],
		"pause_count":         report.Summary.Counts[LabelPause],
		"rework_count":        len(report.Rework),
		"biggest_opportunity": biggest,
		"campaigns":           campaigns,
		"top_scale":           itemBindings(report.TopScale),
		"top_pause":           itemBindings(report.TopPause),
		"rework":              itemBindings(report.Rework),
		"percentiles": map[string]interface{}{
			"ctr_p50":     optional(report.Percentiles.CTR.P50),
			"cpc_p50":     optional(report.Percentiles.CPC.P50),
			"cvr_p25":     optional(report.Percentiles.ConversionRate.P25),
			"ctr_samples": report.Percentiles.Samples.CTR,
			"cpc_samples": report.Percentiles.Samples.CPC,
			"cvr_samples": report.Percentiles.Samples.ConversionRate,
		},
		"unmapped_rows": report.UnmappedRows,
		"errors":        errors,
	}
}

func itemBindings(items []*ItemReport) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		long := item.long()
		title := item.Title
		if title == "" {
			title = "-"
		}
		out = append(out, map[string]interface{}{
			"id":          item.ItemID,
			"title":       title,
			"impressions": long.Impressions,
			"clicks":      long.Clicks,
			"ctr":         optional(long.CTR),
			"spend":       long.Spend,
			"cpc":         optional(long.CPC),
			"sales":       long.Sales,
			"revenue":     long.Revenue,
			"roas":        optional(long.ROAS),
			"acos":        optional(long.ACOS),
			"cvr":         optional(long.ConversionRate),
			"label":       string(item.Decision.Label),
			"action":      item.Decision.Action,
			"reason":      item.Decision.Reason,
		})
	}
	return out
}

// optional unwraps a ratio so templates see nil or a plain number.
func optional(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
