// Package spawning periodically spawns mobs matching the theme of every
// island that has a member online.
package spawning

import (
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Name is the name the feature is enabled under.
const Name = "spawning"

// Entry is a weighted mob of a theme table.
type Entry struct {
	Kind   mob.Kind
	Weight int
}

var tables = map[island.Theme][]Entry{
	island.ThemeWastes: {
		{Kind: mob.ZombifiedPiglin, Weight: 5},
		{Kind: mob.Piglin, Weight: 3},
		{Kind: mob.MagmaCube, Weight: 2},
		{Kind: mob.Ghast, Weight: 1},
	},
	island.ThemeCrimson: {
		{Kind: mob.Piglin, Weight: 4},
		{Kind: mob.Hoglin, Weight: 3},
		{Kind: mob.ZombifiedPiglin, Weight: 2},
	},
	island.ThemeSoul: {
		{Kind: mob.WitherSkeleton, Weight: 4},
		{Kind: mob.Blaze, Weight: 3},
		{Kind: mob.Ghast, Weight: 1},
	},
}

// Table returns the mob table of a theme.
func Table(t island.Theme) []Entry {
	return tables[t]
}

// PickKind picks a mob from the table of a theme. intn returns a random
// number in [0, n).
func PickKind(t island.Theme, intn func(n int) int) (mob.Kind, bool) {
	entries := tables[t]
	total := 0
	for _, e := range entries {
		total += e.Weight
	}
	if total == 0 {
		return 0, false
	}
	n := intn(total)
	for _, e := range entries {
		if n < e.Weight {
			return e.Kind, true
		}
		n -= e.Weight
	}
	return 0, false
}

// Bonus is the spawn chance and mob cap of an island at a spawning tier.
type Bonus struct {
	Chance float64
	Cap    int
}

// BonusAt computes the Bonus of a spawning tier.
func BonusAt(cfg config.Spawning, tier int) Bonus {
	return Bonus{
		Chance: island.SpawnChance(cfg.BaseChance, cfg.ChancePerTier, tier),
		Cap:    island.MobCap(cfg.BaseCap, cfg.CapPerTier, tier),
	}
}

type bonusKey struct {
	owner uuid.UUID
	tier  int
}

// SpawnSource is the part of a world transaction needed to find a spawn
// position.
type SpawnSource interface {
	Block(pos cube.Pos) world.Block
	HighestBlock(x, z int) int
}

const spawnAttempts = 8

// FindSpawn looks for a random column of box whose highest block is solid
// with two free blocks above it.
func FindSpawn(src SpawnSource, box island.Box, r *rand.Rand) (mgl64.Vec3, bool) {
	for range spawnAttempts {
		x := box.Min[0] + r.IntN(box.Max[0]-box.Min[0]+1)
		z := box.Min[2] + r.IntN(box.Max[2]-box.Min[2]+1)
		y := src.HighestBlock(x, z)
		if y < box.Min[1] || y+2 > box.Max[1] {
			continue
		}
		ground := cube.Pos{x, y, z}
		if !solid(src.Block(ground)) || !air(src.Block(ground.Add(cube.Pos{0, 1}))) || !air(src.Block(ground.Add(cube.Pos{0, 2}))) {
			continue
		}
		return mgl64.Vec3{float64(x) + 0.5, float64(y + 1), float64(z) + 0.5}, true
	}
	return mgl64.Vec3{}, false
}

func air(b world.Block) bool {
	name, _ := b.EncodeBlock()
	return name == "minecraft:air"
}

func solid(b world.Block) bool {
	if _, ok := b.(world.Liquid); ok {
		return false
	}
	return !air(b)
}

// New enables themed mob spawning.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{api: api, l: l, log: api.Logger().With("component", Name)}
	if !l.Config.Spawning.Enabled {
		f.log.Info("Themed mob spawning is disabled.")
		return f, nil
	}
	f.bonus = scheduler.NewExpiringMap[bonusKey, Bonus](l.Scheduler, l.Config.Spawning.BonusTTL)
	f.task = l.Scheduler.Every(l.Config.Spawning.Interval, func() { api.Recover(f.tick) })
	return f, nil
}

// Feature spawns themed mobs.
type Feature struct {
	api *service.API
	l   *service.Locator
	log *slog.Logger

	bonus *scheduler.ExpiringMap[bonusKey, Bonus]
	task  *scheduler.Task
	ticks atomic.Uint64
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	if f.task != nil {
		f.task.Cancel()
	}
	if f.bonus != nil {
		f.bonus.Close()
	}
	f.log.Info("Shut down themed mob spawning.")
	return nil
}

// Bonus returns the cached Bonus of isl. Upgrading the spawning tier changes
// the cache key, so a stale bonus is never used.
func (f *Feature) Bonus(isl *island.Island) Bonus {
	k := bonusKey{owner: isl.Owner, tier: isl.Tier(island.UpgradeSpawning)}
	if b, ok := f.bonus.Get(k); ok {
		return b
	}
	b := BonusAt(f.l.Config.Spawning, k.tier)
	f.bonus.Put(k, b)
	return b
}

// active returns the islands with an owner or member online.
func (f *Feature) active() []*island.Island {
	presence := f.api.Presence()
	var out []*island.Island
	for _, isl := range f.l.Islands.Islands() {
		if presence.Online(isl.Owner) {
			out = append(out, isl)
			continue
		}
		for _, m := range isl.Members {
			if presence.Online(m) {
				out = append(out, isl)
				break
			}
		}
	}
	return out
}

func (f *Feature) tick() {
	islands := f.active()
	if len(islands) == 0 || f.l.Nether == nil {
		return
	}
	n := f.ticks.Add(1)
	f.l.Scheduler.Sync(f.l.Nether, func(tx *world.Tx) {
		for _, isl := range islands {
			f.attempt(tx, isl, n)
		}
	})
}

func (f *Feature) attempt(tx *world.Tx, isl *island.Island, n uint64) {
	box := f.l.Grid().Bounds(isl.Slot)
	bonus := f.Bonus(isl)
	if mob.CountWithin(tx, box.BBox(), func(k mob.Kind) bool { return !k.Boss() }) >= bonus.Cap {
		return
	}
	r := rand.New(rand.NewPCG(island.Seed(isl.Owner), n))
	if r.Float64() >= bonus.Chance {
		return
	}
	kind, ok := PickKind(isl.Theme, r.IntN)
	if !ok {
		return
	}
	pos, ok := FindSpawn(tx, box, r)
	if !ok {
		return
	}
	if kind.Spec().Floats {
		pos = pos.Add(mgl64.Vec3{0, 3})
	}
	f.l.Mobs.Spawn(tx, kind, pos)
	f.log.Debug("Spawned themed mob.", "island", isl.Owner, "kind", kind, "pos", pos)
}
