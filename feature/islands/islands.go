// Package islands keeps players from editing islands they do not belong to
// and greets players when they join.
package islands

import (
	"log/slog"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/service"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "islands"

// New enables island protection.
func New(api *service.API) (plugin.Feature, error) {
	f := &Feature{api: api, l: api.Services(), log: api.Logger().With("component", Name)}
	events := api.Events()
	f.unsub = append(f.unsub,
		events.OnPlayer(playerHandler{f: f}),
		events.OnJoin(f.greet),
	)
	f.log.Debug("Island protection enabled.", "islands", f.l.Islands.Len())
	return f, nil
}

// Feature protects island boxes.
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
	f.log.Info("Shut down island protection.")
	return nil
}

// CanEdit reports whether the player may change the block at pos. Inside an
// island only its owner and members may; outside every island only players
// in creative mode may.
func CanEdit(reg *island.Registry, id uuid.UUID, pos cube.Pos, creative bool) bool {
	if isl, ok := reg.IslandAt(pos); ok {
		return isl.IsMember(id)
	}
	return creative
}

func (f *Feature) allowed(ctx *player.Context, pos cube.Pos) bool {
	p := ctx.Val()
	if !f.l.InNether(p.Tx()) {
		return true
	}
	if CanEdit(f.l.Islands, p.UUID(), pos, p.GameMode() == world.GameModeCreative) {
		return true
	}
	ctx.Cancel()
	p.SendTip(text.Colourf("<red>You cannot build here.</red>"))
	return false
}

func (f *Feature) greet(p *player.Player) {
	isl, ok := f.l.Islands.IslandOf(p.UUID())
	if !ok {
		p.Message(text.Colourf("<gold>Welcome to Hellblock!</gold> Use <yellow>/hellblock create</yellow> to claim an island."))
		return
	}
	if isl.Owner == p.UUID() {
		p.Message(text.Colourf("<gold>Welcome back.</gold> Your %s island awaits, use <yellow>/hellblock home</yellow>.", isl.Theme))
		return
	}
	p.Message(text.Colourf("<gold>Welcome back.</gold> You are a member of an island, use <yellow>/hellblock home</yellow>."))
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, _ *[]item.Stack, _ *int) {
	h.f.allowed(ctx, pos)
}

func (h playerHandler) HandleBlockPlace(ctx *player.Context, pos cube.Pos, _ world.Block) {
	h.f.allowed(ctx, pos)
}

func (h playerHandler) HandleItemUseOnBlock(ctx *player.Context, pos cube.Pos, _ cube.Face, _ mgl64.Vec3) {
	h.f.allowed(ctx, pos)
}

func (h playerHandler) HandleAttackEntity(ctx *player.Context, e world.Entity, _, _ *float64, _ *bool) {
	h.f.allowed(ctx, cube.PosFromVec3(e.Position()))
}
