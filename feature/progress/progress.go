// Package progress loads challenge progress of players while they are online
// and advances the mining and kill challenges.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "progress"

const flushTimeout = 10 * time.Second

// New enables challenge progress tracking.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{
		api:    api,
		l:      l,
		log:    api.Logger().With("component", Name),
		placed: scheduler.NewExpiringSet[placement](l.Scheduler, l.Config.Challenges.RecentlyPlacedTTL),
	}
	events := api.Events()
	f.unsub = append(f.unsub,
		events.OnPlayer(playerHandler{f: f}),
		events.OnJoin(f.join),
		l.Mobs.OnDeath(f.kill),
	)
	return f, nil
}

// placement is a block placed by a player.
type placement struct {
	player uuid.UUID
	pos    cube.Pos
}

// Feature advances challenges from mining and kills.
type Feature struct {
	api    *service.API
	l      *service.Locator
	log    *slog.Logger
	unsub  []func()
	placed *scheduler.ExpiringSet[placement]
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.placed.Close()
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := f.l.Challenges.Flush(ctx); err != nil {
		f.log.Error("Failed to save challenge progress.", "err", err)
	}
	f.log.Info("Shut down challenge progress.")
	return nil
}

func (f *Feature) join(p *player.Player) {
	id := p.UUID()
	f.l.Scheduler.Async(func(ctx context.Context) {
		if err := f.l.Challenges.Load(ctx, id); err != nil {
			f.log.Error("Failed to load challenge progress.", "player", id, "err", err)
			f.api.MessagePlayer(id, text.Colourf("<red>Your challenge progress could not be loaded, challenges are paused until you rejoin.</red>"))
		}
	})
}

// Placed reports whether the player placed a block at pos recently. Such
// blocks do not count towards mining challenges.
func (f *Feature) Placed(id uuid.UUID, pos cube.Pos) bool {
	return f.placed.Contains(placement{player: id, pos: pos})
}

func (f *Feature) kill(tx *world.Tx, d mob.Death) {
	if d.Kind.Boss() || d.Killer == uuid.Nil || tx == nil {
		return
	}
	f.l.AdvanceID(tx, d.Killer, challenge.TriggerKill, d.Kind.String(), 1)
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleBlockPlace(ctx *player.Context, pos cube.Pos, _ world.Block) {
	h.f.placed.Add(placement{player: ctx.Val().UUID(), pos: pos})
}

func (h playerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, _ *[]item.Stack, _ *int) {
	p := ctx.Val()
	key := placement{player: p.UUID(), pos: pos}
	if h.f.placed.Contains(key) {
		h.f.placed.Remove(key)
		return
	}
	tx := p.Tx()
	name, _ := tx.Block(pos).EncodeBlock()
	h.f.l.Advance(tx, p, challenge.TriggerMine, name, 1)
}

func (h playerHandler) HandleQuit(p *player.Player) {
	h.f.l.Challenges.Unload(p.UUID())
}
