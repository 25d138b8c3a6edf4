// Package config holds the user configuration of the hellblock server and its
// conversion into the validated runtime Config used by the features.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/pelletier/go-toml"
)

// The starter platform reaches platformDepth blocks below Island.Y, and a
// player standing on it needs platformHeadroom blocks above.
const (
	platformDepth    = 2
	platformHeadroom = 2
)

// UserConfig is the user configuration for a hellblock server. It may be
// serialised to TOML and is converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	Server struct {
		// Address is the address on which the server listens.
		Address string `env:"HELLBLOCK_ADDRESS"`
		// Name is the name of the server as it shows up in the server list.
		Name string `env:"HELLBLOCK_NAME"`
		// AuthEnabled controls whether players must be connected to Xbox Live
		// in order to join the server.
		AuthEnabled bool `env:"HELLBLOCK_AUTH"`
		// WorldFolder is the folder holding the world data.
		WorldFolder string
		// DataFolder is the folder under which each feature keeps its own
		// files.
		DataFolder string
	}
	Storage struct {
		// Provider selects where island and challenge data is persisted. One
		// of "leveldb", "sqlite", "postgres" or "memory".
		Provider string `env:"HELLBLOCK_STORAGE_PROVIDER"`
		// Folder is the database folder used by the leveldb provider and the
		// folder holding the database file for sqlite.
		Folder string
		// DSN is the connection string used by the postgres provider.
		DSN string `env:"HELLBLOCK_STORAGE_DSN"`
	}
	Island struct {
		// Spacing is the distance in blocks between the centres of two
		// neighbouring islands.
		Spacing int
		// Size is the width of the protected area of an island.
		Size int
		// Y is the height at which the starter platform is built.
		Y int
		// MaxMembers is the maximum number of members besides the owner.
		MaxMembers int
		// DefaultTheme is the theme of islands created without one. One of
		// "wastes", "crimson" or "soul".
		DefaultTheme string
		// ResetCooldown is the minimum time between two island resets or
		// creations of the same player, such as "10m".
		ResetCooldown string
	}
	Upgrades struct {
		// MaxTier is the highest tier each upgrade can reach.
		MaxTier int
		// CostItem is the item consumed when buying an upgrade tier.
		CostItem string
		// CostPerTier is multiplied by the target tier to get the number of
		// CostItem consumed.
		CostPerTier int
	}
	Generator struct {
		// Enabled toggles lava generators.
		Enabled bool
		// LocationTTL is how long a generator location is remembered after it
		// last produced a block.
		LocationTTL string
		// Results lists the blocks a generator may produce.
		Results []GeneratorResult
	}
	Spawning struct {
		Enabled bool
		// Interval is the time between two spawn attempts per island.
		Interval string
		// BaseChance is the chance of a spawn attempt succeeding at tier 0.
		BaseChance float64
		// ChancePerTier is added to BaseChance for every spawning upgrade tier.
		ChancePerTier float64
		// BaseCap is the number of themed mobs an island may hold at tier 0.
		BaseCap int
		// CapPerTier is added to BaseCap for every spawning upgrade tier.
		CapPerTier int
		// BonusTTL is how long computed spawn bonuses are cached.
		BonusTTL string
	}
	Hopper struct {
		// BaseLimit is the number of hoppers an island may hold at tier 0.
		BaseLimit int
		// PerTier is added to BaseLimit for every hopper upgrade tier.
		PerTier int
	}
	Barter struct {
		// AdmireDuration is how long a piglin inspects gold before it pays out.
		AdmireDuration string
		// ExtraRollPerTier is the chance per barter upgrade tier of an extra
		// loot roll.
		ExtraRollPerTier float64
		// LootFile optionally points to a YAML loot table replacing the
		// built-in one.
		LootFile string
	}
	Boss struct {
		WitherHealth float64
		WraithHealth float64
		// WraithChance is the chance a dying wither skeleton releases a Wraith.
		WraithChance float64
		// PulseInterval is the time between two area attacks of a boss.
		PulseInterval string
		PulseRadius   float64
		PulseDamage   float64
	}
	Portal struct {
		// WarmUp is how long a player must stand in a portal before travelling.
		WarmUp string
		// Cooldown is the minimum time between two journeys of a player.
		Cooldown string
	}
	Challenges struct {
		// File optionally points to a YAML challenge catalogue replacing the
		// built-in one.
		File string
		// RecentlyPlacedTTL is how long a block placed by a player is ignored
		// by mining challenges.
		RecentlyPlacedTTL string
	}
	Audit struct {
		Enabled bool `env:"HELLBLOCK_AUDIT"`
		// Folder is where compressed audit logs are written.
		Folder string
	}
}

// GeneratorResult is a block a lava generator may produce.
type GeneratorResult struct {
	// Block is the block name, such as "minecraft:netherrack".
	Block string
	// Weight is the relative weight of the result.
	Weight int
	// MinTier is the generator upgrade tier from which the result is possible.
	MinTier int
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Server.Address = ":19132"
	c.Server.Name = "Hellblock"
	c.Server.AuthEnabled = true
	c.Server.WorldFolder = "world"
	c.Server.DataFolder = "data"
	c.Storage.Provider = "leveldb"
	c.Storage.Folder = "islands"
	c.Island.Spacing = 512
	c.Island.Size = 128
	c.Island.Y = 64
	c.Island.MaxMembers = 4
	c.Island.DefaultTheme = "wastes"
	c.Island.ResetCooldown = "10m"
	c.Upgrades.MaxTier = 5
	c.Upgrades.CostItem = "minecraft:gold_ingot"
	c.Upgrades.CostPerTier = 16
	c.Generator.Enabled = true
	c.Generator.LocationTTL = "30m"
	c.Generator.Results = []GeneratorResult{
		{Block: "minecraft:netherrack", Weight: 80},
		{Block: "minecraft:blackstone", Weight: 10, MinTier: 1},
		{Block: "minecraft:quartz_ore", Weight: 6, MinTier: 1},
		{Block: "minecraft:nether_gold_ore", Weight: 4, MinTier: 2},
		{Block: "minecraft:glowstone", Weight: 3, MinTier: 3},
		{Block: "minecraft:ancient_debris", Weight: 1, MinTier: 5},
	}
	c.Spawning.Enabled = true
	c.Spawning.Interval = "15s"
	c.Spawning.BaseChance = 0.2
	c.Spawning.ChancePerTier = 0.1
	c.Spawning.BaseCap = 6
	c.Spawning.CapPerTier = 2
	c.Spawning.BonusTTL = "5m"
	c.Hopper.BaseLimit = 8
	c.Hopper.PerTier = 4
	c.Barter.AdmireDuration = "6s"
	c.Barter.ExtraRollPerTier = 0.1
	c.Boss.WitherHealth = 300
	c.Boss.WraithHealth = 120
	c.Boss.WraithChance = 0.02
	c.Boss.PulseInterval = "4s"
	c.Boss.PulseRadius = 8
	c.Boss.PulseDamage = 4
	c.Portal.WarmUp = "3s"
	c.Portal.Cooldown = "10s"
	c.Challenges.RecentlyPlacedTTL = "10m"
	c.Audit.Enabled = true
	c.Audit.Folder = "audit"
	return c
}

// Load reads the TOML configuration at path. If the file does not exist, it
// is created with the default configuration. Environment variables prefixed
// with HELLBLOCK_ override the values read.
func Load(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Write(path, c); err != nil {
			return c, err
		}
	case err != nil:
		return c, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Write encodes c as TOML to path, creating parent directories as needed.
func Write(path string, c UserConfig) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Config converts the UserConfig into a validated Config.
func (uc UserConfig) Config() (Config, error) {
	var (
		c    Config
		errs []error
		dur  = func(field, v string) time.Duration {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				return 0
			}
			if d <= 0 {
				errs = append(errs, fmt.Errorf("%s: must be positive", field))
			}
			return d
		}
		chance = func(field string, v float64) float64 {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("%s: %v is not within [0, 1]", field, v))
			}
			return v
		}
		positive = func(field string, v int) int {
			if v <= 0 {
				errs = append(errs, fmt.Errorf("%s: must be positive", field))
			}
			return v
		}
	)

	c.Server.Address = uc.Server.Address
	c.Server.Name = uc.Server.Name
	c.Server.AuthEnabled = uc.Server.AuthEnabled
	c.Server.WorldFolder = uc.Server.WorldFolder
	c.Server.DataFolder = uc.Server.DataFolder

	c.Storage.Provider = strings.ToLower(strings.TrimSpace(uc.Storage.Provider))
	c.Storage.Folder = uc.Storage.Folder
	c.Storage.DSN = uc.Storage.DSN
	switch c.Storage.Provider {
	case ProviderLevelDB, ProviderSQLite:
		if c.Storage.Folder == "" {
			errs = append(errs, fmt.Errorf("Storage.Folder: required for %s", c.Storage.Provider))
		}
	case ProviderMemory:
	case ProviderPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("Storage.DSN: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("Storage.Provider: unknown provider %q", uc.Storage.Provider))
	}

	c.Island.Spacing = positive("Island.Spacing", uc.Island.Spacing)
	c.Island.Size = positive("Island.Size", uc.Island.Size)
	if c.Island.Size >= c.Island.Spacing {
		errs = append(errs, fmt.Errorf("Island.Size: must be smaller than Island.Spacing"))
	}
	c.Island.Y = uc.Island.Y
	if r := world.Nether.Range(); c.Island.Y-platformDepth < r.Min() || c.Island.Y+platformHeadroom > r.Max() {
		errs = append(errs, fmt.Errorf("Island.Y: %d is not within [%d, %d]", c.Island.Y, r.Min()+platformDepth, r.Max()-platformHeadroom))
	}
	c.Island.MaxMembers = uc.Island.MaxMembers
	c.Island.DefaultTheme = strings.ToLower(uc.Island.DefaultTheme)
	c.Island.ResetCooldown = dur("Island.ResetCooldown", uc.Island.ResetCooldown)

	c.Upgrades.MaxTier = positive("Upgrades.MaxTier", uc.Upgrades.MaxTier)
	c.Upgrades.CostItem = uc.Upgrades.CostItem
	c.Upgrades.CostPerTier = uc.Upgrades.CostPerTier

	c.Generator.Enabled = uc.Generator.Enabled
	c.Generator.LocationTTL = dur("Generator.LocationTTL", uc.Generator.LocationTTL)
	c.Generator.Results = append([]GeneratorResult(nil), uc.Generator.Results...)
	if c.Generator.Enabled && len(c.Generator.Results) == 0 {
		errs = append(errs, fmt.Errorf("Generator.Results: at least one result is required"))
	}
	for i, r := range c.Generator.Results {
		if r.Weight <= 0 || r.Block == "" {
			errs = append(errs, fmt.Errorf("Generator.Results[%d]: needs a block and a positive weight", i))
		}
	}

	c.Spawning.Enabled = uc.Spawning.Enabled
	c.Spawning.Interval = dur("Spawning.Interval", uc.Spawning.Interval)
	c.Spawning.BaseChance = chance("Spawning.BaseChance", uc.Spawning.BaseChance)
	c.Spawning.ChancePerTier = chance("Spawning.ChancePerTier", uc.Spawning.ChancePerTier)
	c.Spawning.BaseCap = uc.Spawning.BaseCap
	c.Spawning.CapPerTier = uc.Spawning.CapPerTier
	c.Spawning.BonusTTL = dur("Spawning.BonusTTL", uc.Spawning.BonusTTL)

	c.Hopper.BaseLimit = uc.Hopper.BaseLimit
	c.Hopper.PerTier = uc.Hopper.PerTier

	c.Barter.AdmireDuration = dur("Barter.AdmireDuration", uc.Barter.AdmireDuration)
	c.Barter.ExtraRollPerTier = chance("Barter.ExtraRollPerTier", uc.Barter.ExtraRollPerTier)
	c.Barter.LootFile = uc.Barter.LootFile

	c.Boss.WitherHealth = uc.Boss.WitherHealth
	c.Boss.WraithHealth = uc.Boss.WraithHealth
	c.Boss.WraithChance = chance("Boss.WraithChance", uc.Boss.WraithChance)
	c.Boss.PulseInterval = dur("Boss.PulseInterval", uc.Boss.PulseInterval)
	c.Boss.PulseRadius = uc.Boss.PulseRadius
	c.Boss.PulseDamage = uc.Boss.PulseDamage

	c.Portal.WarmUp = dur("Portal.WarmUp", uc.Portal.WarmUp)
	c.Portal.Cooldown = dur("Portal.Cooldown", uc.Portal.Cooldown)

	c.Challenges.File = uc.Challenges.File
	c.Challenges.RecentlyPlacedTTL = dur("Challenges.RecentlyPlacedTTL", uc.Challenges.RecentlyPlacedTTL)

	c.Audit.Enabled = uc.Audit.Enabled
	c.Audit.Folder = uc.Audit.Folder

	if err := errors.Join(errs...); err != nil {
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}
