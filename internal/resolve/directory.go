package resolve

import (
	"fmt"
	"strings"
)

type CampaignRef struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
}

type AdGroupRef struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	ID         string `json:"id" yaml:"id"`
	CampaignID string `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
}

// CreativeRef ties an ad creative to its parents and to the catalog item it
// advertises. Parent ids are internal ids.
type CreativeRef struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	ID         string `json:"id" yaml:"id"`
	AdGroupID  string `json:"ad_group_id,omitempty" yaml:"ad_group_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	ItemID     string `json:"item_id,omitempty" yaml:"item_id,omitempty"`
}

// Directory maps external platform ids to internal refs. It is built once
// per run and read-only afterwards.
type Directory struct {
	campaigns map[string]CampaignRef
	adGroups  map[string]AdGroupRef
	creatives map[string]CreativeRef

	campaignsByID map[string]CampaignRef
	creativesByID map[string]CreativeRef
}

func NewDirectory(campaigns []CampaignRef, adGroups []AdGroupRef, creatives []CreativeRef) (*Directory, error) {
	d := &Directory{
		campaigns:     make(map[string]CampaignRef, len(campaigns)),
		adGroups:      make(map[string]AdGroupRef, len(adGroups)),
		creatives:     make(map[string]CreativeRef, len(creatives)),
		campaignsByID: make(map[string]CampaignRef, len(campaigns)),
		creativesByID: make(map[string]CreativeRef, len(creatives)),
	}
	for _, ref := range campaigns {
		if err := checkRef("campaign", ref.ExternalID, ref.ID); err != nil {
			return nil, err
		}
		if _, dup := d.campaigns[ref.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate campaign external id %q", ref.ExternalID)
		}
		d.campaigns[ref.ExternalID] = ref
		d.campaignsByID[ref.ID] = ref
	}
	for _, ref := range adGroups {
		if err := checkRef("ad group", ref.ExternalID, ref.ID); err != nil {
			return nil, err
		}
		if _, dup := d.adGroups[ref.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate ad group external id %q", ref.ExternalID)
		}
		d.adGroups[ref.ExternalID] = ref
	}
	for _, ref := range creatives {
		if err := checkRef("creative", ref.ExternalID, ref.ID); err != nil {
			return nil, err
		}
		if _, dup := d.creatives[ref.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate creative external id %q", ref.ExternalID)
		}
		d.creatives[ref.ExternalID] = ref
		d.creativesByID[ref.ID] = ref
	}
	return d, nil
}

func checkRef(kind string, externalID string, id string) error {
	if strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("%s ref is missing external_id", kind)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s ref %q is missing id", kind, externalID)
	}
	return nil
}

func (d *Directory) Campaign(externalID string) (CampaignRef, bool) {
	if d == nil {
		return CampaignRef{}, false
	}
	ref, ok := d.campaigns[externalID]
	return ref, ok
}

func (d *Directory) AdGroup(externalID string) (AdGroupRef, bool) {
	if d == nil {
		return AdGroupRef{}, false
	}
	ref, ok := d.adGroups[externalID]
	return ref, ok
}

func (d *Directory) Creative(externalID string) (CreativeRef, bool) {
	if d == nil {
		return CreativeRef{}, false
	}
	ref, ok := d.creatives[externalID]
	return ref, ok
}

// CampaignName looks up a campaign by internal id.
func (d *Directory) CampaignName(id string) string {
	if d == nil {
		return ""
	}
	return d.campaignsByID[id].Name
}

// ItemForCreative returns the catalog item advertised by an internal creative id.
func (d *Directory) ItemForCreative(id string) (string, bool) {
	if d == nil {
		return "", false
	}
	ref, ok := d.creativesByID[id]
	if !ok || ref.ItemID == "" {
		return "", false
	}
	return ref.ItemID, true
}
