// Package portal lets islands build an obsidian portal and link it to the
// portal of another island.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

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
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
	"golang.org/x/time/rate"
)

// Name is the name the feature is enabled under.
const Name = "portal"

// ErrSelfLink is returned when an island is linked to itself.
var ErrSelfLink = errors.New("cannot link an island to itself")

// Link points the portal of the island owned by owner at the island of
// target. Locked islands may only be linked to by their members.
func Link(ctx context.Context, reg *island.Registry, owner, target uuid.UUID) (*island.Island, error) {
	if owner == target {
		return nil, ErrSelfLink
	}
	dst, ok := reg.Island(target)
	if !ok {
		return nil, island.ErrNoIsland
	}
	if dst.Locked && !dst.IsMember(owner) {
		return nil, island.ErrLocked
	}
	return reg.Update(ctx, owner, func(isl *island.Island) error {
		isl.Link = target
		return nil
	})
}

// Unlink makes the portal of the island of owner lead home again.
func Unlink(ctx context.Context, reg *island.Registry, owner uuid.UUID) (*island.Island, error) {
	return reg.Update(ctx, owner, func(isl *island.Island) error {
		isl.Link = uuid.Nil
		return nil
	})
}

// Destination returns where a player travelling through the portal of from
// arrives: the portal or home of the linked island, or the home of the
// traveller's own island.
func Destination(reg *island.Registry, from *island.Island, traveller uuid.UUID) (mgl64.Vec3, uuid.UUID, bool) {
	if from.Link != uuid.Nil {
		if dst, ok := reg.Island(from.Link); ok && (!dst.Locked || dst.IsMember(traveller)) {
			if dst.Portal != nil {
				return dst.Portal.Exit(), dst.Owner, true
			}
			return dst.Home, dst.Owner, true
		}
	}
	if own, ok := reg.IslandOf(traveller); ok {
		return own.Home, own.Owner, true
	}
	return mgl64.Vec3{}, uuid.Nil, false
}

// New enables island portals.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{
		api:      api,
		l:        l,
		log:      api.Logger().With("component", Name),
		warming:  make(map[uuid.UUID]*scheduler.Task),
		cooldown: make(map[uuid.UUID]*rate.Limiter),
	}
	f.unsub = append(f.unsub, api.Events().OnPlayer(playerHandler{f: f}))
	return f, nil
}

// Feature runs island portals.
type Feature struct {
	api   *service.API
	l     *service.Locator
	log   *slog.Logger
	unsub []func()

	mu       sync.Mutex
	warming  map[uuid.UUID]*scheduler.Task
	cooldown map[uuid.UUID]*rate.Limiter
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.mu.Lock()
	for id, t := range f.warming {
		t.Cancel()
		delete(f.warming, id)
	}
	f.mu.Unlock()
	f.log.Info("Shut down portals.")
	return nil
}

// activate records a portal built at origin on the island of the player.
func (f *Feature) activate(tx *world.Tx, p *player.Player, origin cube.Pos) bool {
	isl, ok := f.l.Islands.IslandAt(origin)
	if !ok || !isl.IsMember(p.UUID()) {
		return false
	}
	frame, ok := Detect(tx, tx.Range(), origin)
	if !ok {
		return false
	}
	box := f.l.Grid().Bounds(isl.Slot)
	top := frame.Corner.Add(axisOffset(frame.Axis, frame.Width-1)).Add(cube.Pos{0, frame.Height - 1, 0})
	if !box.Contains(frame.Corner) || !box.Contains(top) {
		return false
	}
	if _, err := f.l.Islands.Update(f.api.Context(), isl.Owner, func(isl *island.Island) error {
		isl.Portal = &frame
		return nil
	}); err != nil {
		f.log.Error("Failed to save portal.", "island", isl.Owner, "err", err)
		return false
	}
	Fill(tx, frame)
	p.Message(text.Colourf("<dark-purple>The island portal is active.</dark-purple> Use /hellblock link to choose where it leads."))
	f.l.Audit.Log(audit.Event{Kind: audit.KindPortal, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{
		"action": "activate", "width": frame.Width, "height": frame.Height,
	}})
	return true
}

// allow reports whether the player may travel now, consuming the cooldown.
func (f *Feature) allow(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.cooldown[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.l.Config.Portal.Cooldown), 1)
		f.cooldown[id] = lim
	}
	return lim.Allow()
}

// enter starts the warm-up of a player standing in a portal. It reports
// false if one was already running.
func (f *Feature) enter(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.warming[id]; ok {
		return false
	}
	f.warming[id] = f.l.Scheduler.After(f.l.Config.Portal.WarmUp, func() {
		f.mu.Lock()
		delete(f.warming, id)
		f.mu.Unlock()
		f.api.WithPlayer(id, func(tx *world.Tx, p *player.Player) {
			f.api.Recover(func() { f.travel(tx, p) })
		})
	})
	return true
}

func (f *Feature) leave(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.warming[id]; ok {
		t.Cancel()
		delete(f.warming, id)
	}
}

// portalAt returns the island whose portal interior contains pos.
func (f *Feature) portalAt(pos cube.Pos) (*island.Island, bool) {
	isl, ok := f.l.Islands.IslandAt(pos)
	if !ok || isl.Portal == nil || !isl.Portal.Contains(pos) {
		return nil, false
	}
	return isl, true
}

func (f *Feature) travel(tx *world.Tx, p *player.Player) {
	if !f.l.InNether(tx) {
		return
	}
	from, ok := f.portalAt(cube.PosFromVec3(p.Position()))
	if !ok {
		return
	}
	if !f.allow(p.UUID()) {
		p.SendTip(text.Colourf("<gray>The portal is recharging.</gray>"))
		return
	}
	dst, owner, ok := Destination(f.l.Islands, from, p.UUID())
	if !ok {
		p.SendTip(text.Colourf("<red>This portal leads nowhere.</red> Create an island first."))
		return
	}
	f.l.Teleport(tx, p, dst)
	f.l.Advance(tx, p, challenge.TriggerPortal, "travel", 1)
	f.l.Audit.Log(audit.Event{Kind: audit.KindPortal, Player: p.UUID(), Island: from.Owner, Detail: map[string]any{
		"action": "travel", "to": owner.String(),
	}})
}

func (f *Feature) forget(id uuid.UUID) {
	f.leave(id)
	f.mu.Lock()
	delete(f.cooldown, id)
	f.mu.Unlock()
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleItemUseOnBlock(ctx *player.Context, pos cube.Pos, face cube.Face, _ mgl64.Vec3) {
	p := ctx.Val()
	tx := p.Tx()
	if !h.f.l.InNether(tx) {
		return
	}
	held, _ := p.HeldItems()
	if _, ok := held.Item().(item.FlintAndSteel); !ok {
		return
	}
	if name, _ := tx.Block(pos).EncodeBlock(); name != "minecraft:obsidian" {
		return
	}
	if h.f.activate(tx, p, pos.Side(face)) {
		ctx.Cancel()
	}
}

func (h playerHandler) HandleMove(ctx *player.Context, newPos mgl64.Vec3, _ cube.Rotation) {
	p := ctx.Val()
	if !h.f.l.InNether(p.Tx()) {
		return
	}
	if _, ok := h.f.portalAt(cube.PosFromVec3(newPos)); !ok {
		h.f.leave(p.UUID())
		return
	}
	if h.f.enter(p.UUID()) {
		p.SendTip(text.Colourf("<dark-purple>Stand still to travel...</dark-purple>"))
	}
}

func (h playerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, _ *[]item.Stack, _ *int) {
	isl, ok := h.f.l.Islands.IslandAt(pos)
	if !ok || isl.Portal == nil || !OnFrame(*isl.Portal, pos) {
		return
	}
	if _, err := h.f.l.Islands.Update(h.f.api.Context(), isl.Owner, func(isl *island.Island) error {
		isl.Portal = nil
		return nil
	}); err != nil {
		h.f.log.Error("Failed to remove portal.", "island", isl.Owner, "err", err)
		return
	}
	ctx.Val().SendTip(text.Colourf("<gray>The island portal collapsed.</gray>"))
}

func (h playerHandler) HandleQuit(p *player.Player) {
	h.f.forget(p.UUID())
}
