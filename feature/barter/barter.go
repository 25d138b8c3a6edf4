// Package barter lets players trade gold ingots with piglins for loot.
package barter

import (
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "barter"

const currency = "minecraft:gold_ingot"

// New enables piglin bartering.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	loot, err := LoadLootTable(l.Config.Barter.LootFile)
	if err != nil {
		return nil, err
	}
	f := &Feature{
		api:      api,
		l:        l,
		log:      api.Logger().With("component", Name),
		loot:     loot,
		admiring: scheduler.NewExpiringSet[uuid.UUID](l.Scheduler, l.Config.Barter.AdmireDuration),
	}
	f.unsub = append(f.unsub, api.Events().OnPlayer(playerHandler{f: f}))
	f.log.Debug("Loaded barter loot.", "entries", loot.Len())
	return f, nil
}

// Feature runs piglin bartering.
type Feature struct {
	api   *service.API
	l     *service.Locator
	log   *slog.Logger
	unsub []func()

	loot     *LootTable
	admiring *scheduler.ExpiringSet[uuid.UUID]
	closed   atomic.Bool
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	f.closed.Store(true)
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.admiring.Close()
	f.log.Info("Shut down piglin bartering.")
	return nil
}

// Admiring reports whether the piglin is inspecting gold.
func (f *Feature) Admiring(piglin uuid.UUID) bool {
	return f.admiring.Contains(piglin)
}

// pay rolls the loot of a barter and drops it at the piglin, if it still
// exists.
func (f *Feature) pay(tx *world.Tx, h *world.EntityHandle, trader uuid.UUID) {
	e, ok := h.Entity(tx)
	if !ok {
		return
	}
	var owner uuid.UUID
	tier := 0
	if isl, ok := f.l.Islands.IslandAt(cube.PosFromVec3(e.Position())); ok {
		owner, tier = isl.Owner, isl.Tier(island.UpgradeBarter)
	}
	rolls := Rolls(tier, f.l.Config.Barter.ExtraRollPerTier, rand.Float64)
	items := make([]string, 0, rolls)
	for range rolls {
		l, n := f.loot.Roll(rand.IntN)
		s, ok := Stack(l, n)
		if !ok {
			f.log.Warn("Unknown barter loot.", "item", l.Item)
			continue
		}
		tx.AddEntity(entity.NewItem(world.EntitySpawnOpts{Position: e.Position()}, s))
		items = append(items, l.Item)
	}
	f.l.AdvanceID(tx, trader, challenge.TriggerBarter, mob.Piglin.String(), 1)
	f.l.Audit.Log(audit.Event{Kind: audit.KindBarter, Player: trader, Island: owner, Detail: map[string]any{"items": items}})
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleItemUseOnEntity(ctx *player.Context, e world.Entity) {
	if k, ok := mob.KindOf(e); !ok || k != mob.Piglin {
		return
	}
	p := ctx.Val()
	main, off := p.HeldItems()
	if main.Empty() {
		return
	}
	if name, _ := main.Item().EncodeItem(); name != currency {
		return
	}
	ctx.Cancel()
	handle := e.H()
	if !h.f.admiring.TryAdd(handle.UUID()) {
		p.SendTip(text.Colourf("<yellow>The piglin is busy admiring gold.</yellow>"))
		return
	}
	if p.GameMode() != world.GameModeCreative {
		p.SetHeldItems(main.Grow(-1), off)
	}
	trader := p.UUID()
	h.f.l.Scheduler.After(h.f.l.Config.Barter.AdmireDuration, func() {
		if h.f.closed.Load() {
			return
		}
		h.f.l.Scheduler.Sync(h.f.l.Nether, func(tx *world.Tx) {
			h.f.api.Recover(func() { h.f.pay(tx, handle, trader) })
		})
	})
}
