// Package catalog supplies per-account snapshots of advertised items and the
// platform entities that map onto them.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/resolve"
	"gopkg.in/yaml.v3"
)

type Snapshot struct {
	AccountID string                `json:"account_id" yaml:"account_id"`
	Items     []domain.CatalogItem  `json:"items" yaml:"items"`
	Campaigns []resolve.CampaignRef `json:"campaigns" yaml:"campaigns"`
	AdGroups  []resolve.AdGroupRef  `json:"ad_groups" yaml:"ad_groups"`
	Creatives []resolve.CreativeRef `json:"creatives" yaml:"creatives"`
	TakenAt   time.Time             `json:"taken_at,omitempty" yaml:"taken_at,omitempty"`
}

type Provider interface {
	Snapshot(ctx context.Context, accountID string) (*Snapshot, error)
}

// Index answers item and entity lookups for one snapshot.
type Index struct {
	directory *resolve.Directory
	items     map[string]domain.CatalogItem
}

func (s *Snapshot) Index() (*Index, error) {
	if s == nil {
		return nil, errors.New("catalog snapshot is nil")
	}
	directory, err := resolve.NewDirectory(s.Campaigns, s.AdGroups, s.Creatives)
	if err != nil {
		return nil, fmt.Errorf("catalog for account %s: %w", s.AccountID, err)
	}
	items := make(map[string]domain.CatalogItem, len(s.Items))
	for _, item := range s.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog for account %s: item with external id %q has no id", s.AccountID, item.ExternalID)
		}
		if _, exists := items[id]; exists {
			return nil, fmt.Errorf("catalog for account %s: duplicate item id %q", s.AccountID, id)
		}
		items[id] = item
	}
	return &Index{directory: directory, items: items}, nil
}

func (i *Index) Directory() *resolve.Directory {
	return i.directory
}

func (i *Index) Item(id string) (domain.CatalogItem, bool) {
	item, ok := i.items[id]
	return item, ok
}

func (i *Index) CampaignName(id string) string {
	return i.directory.CampaignName(id)
}

func (i *Index) ItemForCreative(creativeID string) (string, bool) {
	return i.directory.ItemForCreative(creativeID)
}

// FileProvider reads a snapshot from a YAML or JSON file.
type FileProvider struct {
	Path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(p.Path)
	if path == "" {
		return nil, errors.New("catalog path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	snapshot, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if snapshot.AccountID == "" {
		snapshot.AccountID = accountID
	}
	if snapshot.AccountID != accountID {
		return nil, fmt.Errorf("catalog %s belongs to account %s, not %s", path, snapshot.AccountID, accountID)
	}
	return snapshot, nil
}

// Decode parses a snapshot; ext selects JSON for ".json" and YAML otherwise.
func Decode(data []byte, ext string) (*Snapshot, error) {
	var snapshot Snapshot
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, err
		}
		return &snapshot, nil
	}
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// StaticProvider serves fixed snapshots by account id.
type StaticProvider map[string]*Snapshot

func (p StaticProvider) Snapshot(_ context.Context, accountID string) (*Snapshot, error) {
	snapshot, ok := p[accountID]
	if !ok {
		return nil, fmt.Errorf("no catalog snapshot for account %s", accountID)
	}
	return snapshot, nil
}

// AccountProviders routes snapshot requests to a provider per account id.
type AccountProviders map[string]Provider

func (p AccountProviders) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	provider, ok := p[accountID]
	if !ok || provider == nil {
		return nil, fmt.Errorf("no catalog configured for account %s", accountID)
	}
	return provider.Snapshot(ctx, accountID)
}
