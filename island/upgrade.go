package island

import (
	"fmt"
	"strings"
)

// Upgrade is an island upgrade track bought with the configured cost item.
type Upgrade uint8

const (
	// UpgradeHopper raises the hopper limit.
	UpgradeHopper Upgrade = iota
	// UpgradeGenerator unlocks rarer generator results.
	UpgradeGenerator
	// UpgradeSpawning raises the spawn chance and mob cap.
	UpgradeSpawning
	// UpgradeBarter adds extra bartering rolls.
	UpgradeBarter
)

// Upgrades returns every upgrade track.
func Upgrades() []Upgrade {
	return []Upgrade{UpgradeHopper, UpgradeGenerator, UpgradeSpawning, UpgradeBarter}
}

func (u Upgrade) String() string {
	switch u {
	case UpgradeHopper:
		return "hopper"
	case UpgradeGenerator:
		return "generator"
	case UpgradeSpawning:
		return "spawning"
	case UpgradeBarter:
		return "barter"
	}
	panic("should never happen")
}

// ParseUpgrade parses the name of an upgrade track.
func ParseUpgrade(s string) (Upgrade, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, u := range Upgrades() {
		if u.String() == name {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unknown upgrade %q", s)
}

// HopperLimit returns the number of hoppers an island may hold at a tier.
func HopperLimit(base, perTier, tier int) int {
	return base + perTier*tier
}

// SpawnChance returns the chance of a spawn attempt succeeding at a tier,
// clamped to [0, 1].
func SpawnChance(base, perTier float64, tier int) float64 {
	return min(max(base+perTier*float64(tier), 0), 1)
}

// MobCap returns the number of themed mobs an island may hold at a tier.
func MobCap(base, perTier, tier int) int {
	return base + perTier*tier
}

// UpgradeCost returns the amount of the cost item needed to go from tier to
// tier+1.
func UpgradeCost(perTier, tier int) int {
	return perTier * (tier + 1)
}
