package insights

import (
	"fmt"
	"strings"
)

// BreakdownConfig names a set of one or two Graph breakdowns. Dimensions are
// the row fields read back into the stored dimension values.
type BreakdownConfig struct {
	Key        string   `json:"key" yaml:"key"`
	Breakdowns []string `json:"breakdowns" yaml:"breakdowns"`
	Dimensions []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

func (b BreakdownConfig) dimensions() []string {
	if len(b.Dimensions) > 0 {
		return b.Dimensions
	}
	return b.Breakdowns
}

var defaultBreakdowns = []BreakdownConfig{
	{Key: "age", Breakdowns: []string{"age"}},
	{Key: "gender", Breakdowns: []string{"gender"}},
	{Key: "age_gender", Breakdowns: []string{"age", "gender"}},
	{Key: "country", Breakdowns: []string{"country"}},
	{Key: "device_platform", Breakdowns: []string{"device_platform"}},
	{Key: "publisher_platform", Breakdowns: []string{"publisher_platform", "platform_position"}},
	{Key: "impression_device", Breakdowns: []string{"impression_device"}},
}

func DefaultBreakdowns() []BreakdownConfig {
	out := make([]BreakdownConfig, 0, len(defaultBreakdowns))
	for _, config := range defaultBreakdowns {
		out = append(out, BreakdownConfig{
			Key:        config.Key,
			Breakdowns: append([]string(nil), config.Breakdowns...),
			Dimensions: append([]string(nil), config.Dimensions...),
		})
	}
	return out
}

// SelectBreakdowns picks default configurations by key. "none" selects no
// breakdowns and an empty list selects all of them.
func SelectBreakdowns(keys []string) ([]BreakdownConfig, error) {
	if len(keys) == 0 {
		return DefaultBreakdowns(), nil
	}
	if len(keys) == 1 && strings.EqualFold(strings.TrimSpace(keys[0]), "none") {
		return nil, nil
	}
	byKey := map[string]BreakdownConfig{}
	for _, config := range DefaultBreakdowns() {
		byKey[config.Key] = config
	}
	out := make([]BreakdownConfig, 0, len(keys))
	seen := map[string]struct{}{}
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		if key == "" {
			return nil, fmt.Errorf("breakdown list contains blank entries")
		}
		config, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("unknown breakdown %q", key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, config)
	}
	return out, nil
}

func validateBreakdown(config BreakdownConfig) error {
	if strings.TrimSpace(config.Key) == "" {
		return fmt.Errorf("breakdown key is required")
	}
	if len(config.Breakdowns) == 0 || len(config.Breakdowns) > 2 {
		return fmt.Errorf("breakdown %q must name one or two dimensions", config.Key)
	}
	for _, name := range config.Breakdowns {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("breakdown %q contains a blank dimension", config.Key)
		}
	}
	return nil
}
