// Package generator turns lava flows meeting on an island into blocks chosen
// by the generator tier of the island.
package generator

import (
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
)

// Name is the name the feature is enabled under.
const Name = "generator"

const (
	sweepInterval = time.Minute
	// locationsFile holds the generator locations between restarts.
	locationsFile = "locations.nbt"
)

// New enables lava generators. It returns a disabled feature if generators
// are turned off in the configuration.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{api: api, l: l, log: api.Logger().With("component", Name)}
	if !l.Config.Generator.Enabled {
		f.log.Info("Lava generators are disabled.")
		return f, nil
	}
	table, err := NewTable(l.Config.Generator.Results, func(name string) (world.Block, bool) {
		return world.BlockByName(name, nil)
	})
	if err != nil {
		f.log.Warn("Skipped generator results.", "err", err)
	}
	f.table = table
	f.index = NewIndex(l.Config.Generator.LocationTTL)
	f.load()
	f.sweep = l.Scheduler.Every(sweepInterval, func() {
		if n := f.index.Sweep(); n > 0 {
			f.log.Debug("Forgot expired generator locations.", "count", n)
		}
	})
	events := api.Events()
	f.unsub = append(f.unsub,
		events.OnWorld(worldHandler{f: f}),
		events.OnPlayer(playerHandler{f: f}),
	)
	return f, nil
}

// Feature runs lava generators.
type Feature struct {
	api   *service.API
	l     *service.Locator
	log   *slog.Logger
	unsub []func()

	table *Table
	index *Index
	sweep *scheduler.Task
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	if f.sweep != nil {
		f.sweep.Cancel()
	}
	if f.index != nil {
		if err := f.save(); err != nil {
			f.log.Error("Failed to save generator locations.", "err", err)
		}
	}
	f.log.Info("Shut down lava generators.")
	return nil
}

func (f *Feature) load() {
	file, err := f.api.OpenDataFile(locationsFile, os.O_RDONLY|os.O_CREATE, 0)
	if err != nil {
		f.log.Warn("Failed to open generator locations.", "err", err)
		return
	}
	defer file.Close()
	n, err := f.index.Load(file)
	if err != nil {
		f.log.Warn("Discarded saved generator locations.", "err", err)
		return
	}
	if n > 0 {
		f.log.Debug("Loaded generator locations.", "count", n)
	}
}

func (f *Feature) save() error {
	file, err := f.api.OpenDataFile(locationsFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if err := f.index.Save(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Forget drops every generator location of slot.
func (f *Feature) Forget(slot int) {
	if f.index != nil {
		f.index.DeleteSlot(slot)
	}
}

// LiquidSource is the part of a world transaction needed to find lava.
type LiquidSource interface {
	Liquid(pos cube.Pos) (world.Liquid, bool)
}

// LavaBeside reports whether lava other than the lava at from is next to pos
// on the same level.
func LavaBeside(src LiquidSource, pos, from cube.Pos) bool {
	for _, face := range cube.HorizontalFaces() {
		side := pos.Side(face)
		if side == from {
			continue
		}
		if l, ok := src.Liquid(side); ok && l.LiquidType() == "lava" {
			return true
		}
	}
	return false
}

// generate replaces pos with a generated block of the island at pos.
func (f *Feature) generate(tx *world.Tx, pos cube.Pos, isl *island.Island) bool {
	b, _, ok := f.table.Pick(isl.Tier(island.UpgradeGenerator), rand.IntN)
	if !ok {
		return false
	}
	tx.SetBlock(pos, b, nil)
	f.index.Put(pos, isl.Slot)
	return true
}

type worldHandler struct {
	world.NopHandler
	f *Feature
}

func (h worldHandler) HandleLiquidFlow(ctx *world.Context, from, into cube.Pos, liquid world.Liquid, _ world.Block) {
	if liquid.LiquidType() != "lava" {
		return
	}
	tx := ctx.Val()
	if !h.f.l.InNether(tx) {
		return
	}
	isl, ok := h.f.l.Islands.IslandAt(into)
	if !ok {
		return
	}
	if _, known := h.f.index.Slot(into); !known && !LavaBeside(tx, into, from) {
		return
	}
	if h.f.generate(tx, into, isl) {
		ctx.Cancel()
	}
}

func (h worldHandler) HandleLiquidHarden(ctx *world.Context, pos cube.Pos, _, _, _ world.Block) {
	tx := ctx.Val()
	if !h.f.l.InNether(tx) {
		return
	}
	isl, ok := h.f.l.Islands.IslandAt(pos)
	if !ok {
		return
	}
	if h.f.generate(tx, pos, isl) {
		ctx.Cancel()
	}
}

// harvest reports whether breaking pos collects a generated block. Only
// breaks in the island world count, and every generated block counts once:
// a block placed on a generator location by a player was never generated.
func (f *Feature) harvest(nether bool, pos cube.Pos) bool {
	if !nether || f.index == nil {
		return false
	}
	_, ok := f.index.Take(pos)
	return ok
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, _ *[]item.Stack, _ *int) {
	p := ctx.Val()
	tx := p.Tx()
	if !h.f.harvest(h.f.l.InNether(tx), pos) {
		return
	}
	name, _ := tx.Block(pos).EncodeBlock()
	h.f.l.Advance(tx, p, challenge.TriggerGenerate, name, 1)

	ev := audit.Event{Kind: audit.KindGenerate, Player: p.UUID(), Detail: map[string]any{"block": name, "pos": pos}}
	if isl, ok := h.f.l.Islands.IslandAt(pos); ok {
		ev.Island = isl.Owner
	}
	h.f.l.Audit.Log(ev)
}

// Chances returns the chance of every block a generator produces at tier.
func (f *Feature) Chances(tier int) map[string]float64 {
	if f.table == nil {
		return nil
	}
	return f.table.Chances(tier)
}
