// Package resolve maps Graph entity ids to internal catalog ids.
package resolve

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/observability"
)

const (
	ReasonUnresolvedCampaign = "unresolved campaign id"
	ReasonUnresolvedAdGroup  = "unresolved ad group id"
	ReasonUnresolvedCreative = "unresolved creative id"
)

// DropSummary counts dropped rows by reason.
type DropSummary map[string]int

func (s DropSummary) Add(reason string) {
	s[reason]++
}

func (s DropSummary) Merge(other DropSummary) {
	for reason, count := range other {
		s[reason] += count
	}
}

func (s DropSummary) Total() int {
	total := 0
	for _, count := range s {
		total += count
	}
	return total
}

// Lines renders "N rows dropped: reason" entries sorted by reason.
func (s DropSummary) Lines() []string {
	reasons := make([]string, 0, len(s))
	for reason := range s {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	out := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		out = append(out, fmt.Sprintf("%d rows dropped: %s", s[reason], reason))
	}
	return out
}

type Resolver struct {
	directory *Directory
	logger    *slog.Logger
}

func NewResolver(directory *Directory, logger *slog.Logger) *Resolver {
	return &Resolver{directory: directory, logger: observability.OrDiscard(logger)}
}

// Resolve maps one external id of the given kind to its internal id.
func (r *Resolver) Resolve(externalID string, kind domain.Level) (string, bool) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", false
	}
	switch kind {
	case domain.LevelCampaign:
		ref, ok := r.directory.Campaign(externalID)
		return ref.ID, ok
	case domain.LevelAdGroup:
		ref, ok := r.directory.AdGroup(externalID)
		return ref.ID, ok
	case domain.LevelCreative:
		ref, ok := r.directory.Creative(externalID)
		return ref.ID, ok
	default:
		return "", false
	}
}

// ResolveRows rewrites row ids to internal ids. A row whose own entity or
// any parent cannot be resolved is dropped, logged and counted.
func (r *Resolver) ResolveRows(rows []domain.MetricRow) ([]domain.MetricRow, DropSummary) {
	drops := DropSummary{}
	out := make([]domain.MetricRow, 0, len(rows))
	for _, row := range rows {
		resolved, reason, externalID := r.resolveRow(row)
		if reason != "" {
			drops.Add(reason)
			r.logger.Warn("dropping row with unresolved entity",
				"account_id", row.AccountID,
				"level", row.Level.String(),
				"external_id", externalID,
				"reason", reason,
				"date", row.Date.Format(domain.DateLayout),
			)
			continue
		}
		out = append(out, resolved)
	}
	return out, drops
}

func (r *Resolver) resolveRow(row domain.MetricRow) (domain.MetricRow, string, string) {
	switch row.Level {
	case domain.LevelAccount:
		return row, "", ""

	case domain.LevelCampaign:
		id, ok := r.Resolve(row.CampaignID, domain.LevelCampaign)
		if !ok {
			return row, ReasonUnresolvedCampaign, row.CampaignID
		}
		row.CampaignID = id
		return row, "", ""

	case domain.LevelAdGroup:
		ref, ok := r.directory.AdGroup(row.AdGroupID)
		if !ok {
			return row, ReasonUnresolvedAdGroup, row.AdGroupID
		}
		campaignID, ok := r.parentCampaign(ref.CampaignID, row.CampaignID)
		if !ok {
			return row, ReasonUnresolvedCampaign, row.CampaignID
		}
		row.AdGroupID = ref.ID
		row.CampaignID = campaignID
		return row, "", ""

	case domain.LevelCreative:
		ref, ok := r.directory.Creative(row.CreativeID)
		if !ok {
			return row, ReasonUnresolvedCreative, row.CreativeID
		}
		adGroupID := ref.AdGroupID
		if adGroupID == "" {
			adGroupID, ok = r.Resolve(row.AdGroupID, domain.LevelAdGroup)
			if !ok {
				return row, ReasonUnresolvedAdGroup, row.AdGroupID
			}
		}
		campaignID, ok := r.parentCampaign(ref.CampaignID, row.CampaignID)
		if !ok {
			return row, ReasonUnresolvedCampaign, row.CampaignID
		}
		row.CreativeID = ref.ID
		row.AdGroupID = adGroupID
		row.CampaignID = campaignID
		return row, "", ""

	default:
		return row, fmt.Sprintf("unsupported level %s", row.Level), row.EntityID()
	}
}

// parentCampaign prefers the directory's own parent link over the id the
// row reported.
func (r *Resolver) parentCampaign(refCampaignID string, externalCampaignID string) (string, bool) {
	if refCampaignID != "" {
		return refCampaignID, true
	}
	return r.Resolve(externalCampaignID, domain.LevelCampaign)
}
