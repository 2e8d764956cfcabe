// Package roles assigns Discord guild roles that reflect a member's Lichess rating tier.
package roles

import (
	"fmt"
	"sort"
)

// Tier is an inclusive rating band mapped to one guild role
type Tier struct {
	Name     string `yaml:"name"`
	RoleName string `yaml:"role_name"`
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"`
}

// Contains reports whether rating falls inside the band
func (t Tier) Contains(rating int) bool {
	return rating >= t.Min && rating <= t.Max
}

// DefaultTiers returns the built-in rating bands
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "beginner", RoleName: "Lichess 0-1199", Min: 0, Max: 1199},
		{Name: "intermediate", RoleName: "Lichess 1200-1599", Min: 1200, Max: 1599},
		{Name: "advanced", RoleName: "Lichess 1600-1999", Min: 1600, Max: 1999},
		{Name: "expert", RoleName: "Lichess 2000-2399", Min: 2000, Max: 2399},
		{Name: "master", RoleName: "Lichess 2400+", Min: 2400, Max: 4000},
	}
}

// ValidateTiers checks names are unique and bands are well formed and disjoint
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}

	names := make(map[string]bool, len(tiers))
	roleNames := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		if t.Name == "" {
			return fmt.Errorf("tier name is required")
		}
		if t.RoleName == "" {
			return fmt.Errorf("tier %q: role_name is required", t.Name)
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		if roleNames[t.RoleName] {
			return fmt.Errorf("duplicate role name %q", t.RoleName)
		}
		if t.Min > t.Max {
			return fmt.Errorf("tier %q: min %d is greater than max %d", t.Name, t.Min, t.Max)
		}
		names[t.Name] = true
		roleNames[t.RoleName] = true
	}

	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Min <= sorted[i-1].Max {
			return fmt.Errorf("tiers %q and %q overlap", sorted[i-1].Name, sorted[i].Name)
		}
	}

	return nil
}

// TierFor returns the tier whose band contains rating
func TierFor(tiers []Tier, rating int) (Tier, bool) {
	for _, t := range tiers {
		if t.Contains(rating) {
			return t, true
		}
	}
	return Tier{}, false
}
