package config

import "time"

// Storage providers understood by Storage.Provider.
const (
	ProviderLevelDB  = "leveldb"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	// ProviderMemory keeps everything in memory and loses it on shutdown.
	ProviderMemory = "memory"
)

// Config is the validated runtime configuration produced by
// UserConfig.Config.
type Config struct {
	Server struct {
		Address     string
		Name        string
		AuthEnabled bool
		WorldFolder string
		DataFolder  string
	}
	Storage    Storage
	Island     Island
	Upgrades   Upgrades
	Generator  Generator
	Spawning   Spawning
	Hopper     Hopper
	Barter     Barter
	Boss       Boss
	Portal     Portal
	Challenges Challenges
	Audit      Audit
}

// Storage selects the persistence backend.
type Storage struct {
	Provider string
	Folder   string
	DSN      string
}

// Island configures the island grid.
type Island struct {
	Spacing       int
	Size          int
	Y             int
	MaxMembers    int
	DefaultTheme  string
	ResetCooldown time.Duration
}

// Upgrades configures upgrade tiers and their cost.
type Upgrades struct {
	MaxTier     int
	CostItem    string
	CostPerTier int
}

// Generator configures lava generators.
type Generator struct {
	Enabled     bool
	LocationTTL time.Duration
	Results     []GeneratorResult
}

// Spawning configures themed mob spawning.
type Spawning struct {
	Enabled       bool
	Interval      time.Duration
	BaseChance    float64
	ChancePerTier float64
	BaseCap       int
	CapPerTier    int
	BonusTTL      time.Duration
}

// Hopper configures hopper limits.
type Hopper struct {
	BaseLimit int
	PerTier   int
}

// Barter configures piglin bartering.
type Barter struct {
	AdmireDuration   time.Duration
	ExtraRollPerTier float64
	LootFile         string
}

// Boss configures the Wither and the Wraith.
type Boss struct {
	WitherHealth  float64
	WraithHealth  float64
	WraithChance  float64
	PulseInterval time.Duration
	PulseRadius   float64
	PulseDamage   float64
}

// Portal configures island portals.
type Portal struct {
	WarmUp   time.Duration
	Cooldown time.Duration
}

// Challenges configures challenge progression.
type Challenges struct {
	File              string
	RecentlyPlacedTTL time.Duration
}

// Audit configures the compressed audit log.
type Audit struct {
	Enabled bool
	Folder  string
}
