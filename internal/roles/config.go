package roles

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierConfig is the optional tier file: custom bands plus known role ids per guild
type TierConfig struct {
	Tiers  []Tier                       `yaml:"tiers"`
	Guilds map[string]map[string]string `yaml:"guilds"` // guild id -> tier name -> role id
}

// DefaultTierConfig uses the built-in bands and no seeded roles
func DefaultTierConfig() TierConfig {
	return TierConfig{Tiers: DefaultTiers()}
}

// LoadTierConfig reads a tier file. An empty path yields the defaults.
func LoadTierConfig(path string) (TierConfig, error) {
	if path == "" {
		return DefaultTierConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TierConfig{}, fmt.Errorf("failed to read tier config: %w", err)
	}

	return ParseTierConfig(data)
}

// ParseTierConfig decodes and validates tier YAML. Missing tiers fall back to the defaults.
func ParseTierConfig(data []byte) (TierConfig, error) {
	var cfg TierConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TierConfig{}, fmt.Errorf("failed to parse tier config: %w", err)
	}

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if err := ValidateTiers(cfg.Tiers); err != nil {
		return TierConfig{}, fmt.Errorf("invalid tier config: %w", err)
	}

	if err := ValidateGuilds(cfg.Tiers, cfg.Guilds); err != nil {
		return TierConfig{}, fmt.Errorf("invalid tier config: %w", err)
	}

	return cfg, nil
}

// ValidateGuilds checks seeded roles: every tier must exist and no two tiers of a guild may share a role
func ValidateGuilds(tiers []Tier, guilds map[string]map[string]string) error {
	for guild, seeded := range guilds {
		owners := make(map[string]string, len(seeded))
		for tier, roleID := range seeded {
			if !hasTier(tiers, tier) {
				return fmt.Errorf("guild %s references unknown tier %q", guild, tier)
			}
			if roleID == "" {
				return fmt.Errorf("guild %s: tier %q has an empty role id", guild, tier)
			}
			if other, dup := owners[roleID]; dup {
				return fmt.Errorf("guild %s: role %s is assigned to both %q and %q", guild, roleID, other, tier)
			}
			owners[roleID] = tier
		}
	}
	return nil
}

func hasTier(tiers []Tier, name string) bool {
	for _, t := range tiers {
		if t.Name == name {
			return true
		}
	}
	return false
}
