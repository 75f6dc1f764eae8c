// Package reconcile picks the authoritative rows when the same spend was
// reported at several granularity levels.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/bilalbayram/adplan/internal/domain"
)

const noCampaign = "\x00none"

// Scope is the unit reconciliation runs in: one account and day, within one
// breakdown slice.
type Scope struct {
	AccountID    string
	Date         string
	BreakdownKey string
	DimensionKey string
}

func ScopeOf(row domain.MetricRow) Scope {
	return Scope{
		AccountID:    row.AccountID,
		Date:         row.Date.Format(domain.DateLayout),
		BreakdownKey: row.BreakdownKey,
		DimensionKey: row.DimensionKey(),
	}
}

// Reconcile returns one row per entity at the deepest level reported for
// each campaign group. Within a scope:
//
//  1. account rows are superseded as soon as any campaign-attributed row exists;
//  2. rows are grouped by campaign (absent campaign is its own group) and only
//     the deepest level present in the group survives;
//  3. duplicates of one entity keep the latest FetchedAt, then the greater key.
//
// The output is sorted by row key and does not depend on input order.
func Reconcile(rows []domain.MetricRow) []domain.MetricRow {
	scopes := map[Scope][]domain.MetricRow{}
	for _, row := range rows {
		scope := ScopeOf(row)
		scopes[scope] = append(scopes[scope], row)
	}

	out := make([]domain.MetricRow, 0, len(rows))
	for _, scoped := range scopes {
		out = append(out, reconcileScope(scoped)...)
	}
	sortRows(out)
	return out
}

func reconcileScope(rows []domain.MetricRow) []domain.MetricRow {
	hasCampaign := false
	for _, row := range rows {
		if row.CampaignID != "" {
			hasCampaign = true
			break
		}
	}

	groups := map[string][]domain.MetricRow{}
	for _, row := range rows {
		if hasCampaign && row.Level == domain.LevelAccount {
			continue
		}
		group := row.CampaignID
		if group == "" {
			group = noCampaign
		}
		groups[group] = append(groups[group], row)
	}

	out := make([]domain.MetricRow, 0, len(rows))
	for _, grouped := range groups {
		deepest := domain.LevelAccount
		for _, row := range grouped {
			if row.Level > deepest {
				deepest = row.Level
			}
		}
		winners := map[string]domain.MetricRow{}
		for _, row := range grouped {
			if row.Level != deepest {
				continue
			}
			entity := row.EntityID()
			current, ok := winners[entity]
			if !ok || outranks(row, current) {
				winners[entity] = row
			}
		}
		for _, row := range winners {
			out = append(out, row)
		}
	}
	return out
}

func outranks(candidate domain.MetricRow, current domain.MetricRow) bool {
	if !candidate.FetchedAt.Equal(current.FetchedAt) {
		return candidate.FetchedAt.After(current.FetchedAt)
	}
	return rawKey(candidate) > rawKey(current)
}

// rawKey covers the values as well as the ids so exact duplicates with
// different numbers still order deterministically.
func rawKey(row domain.MetricRow) string {
	return row.Key().String() + "|" + formatValues(row)
}

func formatValues(row domain.MetricRow) string {
	return fmt.Sprintf("%d|%d|%.6f|%.6f|%.6f", row.Impressions, row.Clicks, row.Spend, row.Conversions, row.ConversionValue)
}

func sortRows(rows []domain.MetricRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Key().String() < rows[j].Key().String()
	})
}
