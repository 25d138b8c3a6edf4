// Package hopper limits the number of hoppers an island may hold.
package hopper

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/service"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "hopper"

const hopperBlock = "minecraft:hopper"

// ErrLimit is returned by Register when an island holds its maximum number
// of hoppers.
var ErrLimit = errors.New("hopper limit reached")

// Limit returns the number of hoppers isl may hold.
func Limit(cfg config.Hopper, isl *island.Island) int {
	return island.HopperLimit(cfg.BaseLimit, cfg.PerTier, isl.Tier(island.UpgradeHopper))
}

// Register records a hopper at pos on the island of owner.
func Register(ctx context.Context, reg *island.Registry, cfg config.Hopper, owner uuid.UUID, pos cube.Pos) (*island.Island, error) {
	return reg.Update(ctx, owner, func(isl *island.Island) error {
		if isl.HasHopper(pos) {
			return nil
		}
		if len(isl.Hoppers) >= Limit(cfg, isl) {
			return ErrLimit
		}
		isl.Hoppers = append(isl.Hoppers, pos)
		return nil
	})
}

// Unregister forgets the hopper at pos on the island of owner.
func Unregister(ctx context.Context, reg *island.Registry, owner uuid.UUID, pos cube.Pos) (*island.Island, error) {
	return reg.Update(ctx, owner, func(isl *island.Island) error {
		isl.Hoppers = slices.DeleteFunc(isl.Hoppers, func(p cube.Pos) bool { return p == pos })
		return nil
	})
}

// New enables hopper limits.
func New(api *service.API) (plugin.Feature, error) {
	f := &Feature{api: api, l: api.Services(), log: api.Logger().With("component", Name)}
	events := api.Events()
	f.unsub = append(f.unsub,
		events.OnPlayer(playerHandler{f: f}),
		events.OnWorld(worldHandler{f: f}),
	)
	return f, nil
}

// Feature limits hoppers.
type Feature struct {
	api   *service.API
	l     *service.Locator
	log   *slog.Logger
	unsub []func()
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.log.Info("Shut down hopper limits.")
	return nil
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleBlockPlace(ctx *player.Context, pos cube.Pos, b world.Block) {
	if name, _ := b.EncodeBlock(); name != hopperBlock {
		return
	}
	p := ctx.Val()
	tx := p.Tx()
	if !h.f.l.InNether(tx) {
		return
	}
	isl, ok := h.f.l.Islands.IslandAt(pos)
	if !ok {
		return
	}
	updated, err := Register(h.f.api.Context(), h.f.l.Islands, h.f.l.Config.Hopper, isl.Owner, pos)
	switch {
	case errors.Is(err, ErrLimit):
		ctx.Cancel()
		p.Message(text.Colourf("<red>This island holds its maximum of %d hoppers.</red> Upgrade the hopper tier for more.", Limit(h.f.l.Config.Hopper, isl)))
		return
	case err != nil:
		ctx.Cancel()
		h.f.log.Error("Failed to register hopper.", "island", isl.Owner, "pos", pos, "err", err)
		return
	}
	p.SendTip(text.Colourf("<gray>Hoppers: %d/%d</gray>", len(updated.Hoppers), Limit(h.f.l.Config.Hopper, updated)))
	h.f.l.Advance(tx, p, challenge.TriggerHopper, hopperBlock, 1)
}

func (h playerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, _ *[]item.Stack, _ *int) {
	h.f.removed(h.f.l.InNether(ctx.Val().Tx()), pos)
}

type worldHandler struct {
	world.NopHandler
	f *Feature
}

func (h worldHandler) HandleExplosion(ctx *world.Context, _ mgl64.Vec3, _ *[]world.Entity, blocks *[]cube.Pos, _ *float64, _ *bool) {
	h.f.removed(h.f.l.InNether(ctx.Val()), *blocks...)
}

// removed forgets the hoppers registered at any of the positions passed.
// Removals outside the island world are ignored.
func (f *Feature) removed(nether bool, positions ...cube.Pos) {
	if !nether {
		return
	}
	for _, pos := range positions {
		isl, ok := f.l.Islands.IslandAt(pos)
		if !ok || !isl.HasHopper(pos) {
			continue
		}
		if _, err := Unregister(f.api.Context(), f.l.Islands, isl.Owner, pos); err != nil {
			f.log.Error("Failed to forget hopper.", "island", isl.Owner, "pos", pos, "err", err)
		}
	}
}
