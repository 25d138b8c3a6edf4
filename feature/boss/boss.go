// Package boss summons the Wither and the Wraith, runs their phases and area
// attacks and rewards the players who defeat them.
package boss

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/entity/effect"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/player/bossbar"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Name is the name the feature is enabled under.
const Name = "boss"

const (
	barRange        = 32
	minionsPerPhase = 2
	witherEffect    = 5 * time.Second
	// phaseImmunity is added to the hit immunity of a Wither per phase.
	phaseImmunity = 250 * time.Millisecond
)

// New enables the bosses.
func New(api *service.API) (plugin.Feature, error) {
	l := api.Services()
	f := &Feature{api: api, l: l, log: api.Logger().With("component", Name), bosses: newRegistry()}
	f.unsub = append(f.unsub,
		api.Events().OnPlayer(playerHandler{f: f}),
		l.Mobs.OnHurt(f.hurt),
		l.Mobs.OnDeath(f.death),
		l.Mobs.OnDespawn(f.despawn),
	)
	f.pulse = l.Scheduler.Every(l.Config.Boss.PulseInterval, func() { api.Recover(f.tick) })
	return f, nil
}

// Feature runs the bosses.
type Feature struct {
	api   *service.API
	l     *service.Locator
	log   *slog.Logger
	unsub []func()

	bosses *registry
	pulse  *scheduler.Task
}

func (f *Feature) Name() string { return Name }

func (f *Feature) Close() error {
	f.pulse.Cancel()
	for i := len(f.unsub) - 1; i >= 0; i-- {
		f.unsub[i]()
	}
	f.unsub = nil
	f.api.Events().Clear()
	f.log.Info("Shut down bosses.", "alive", len(f.bosses.all()))
	return nil
}

// Bosses returns the stats of every living boss.
func (f *Feature) Bosses() []Stats {
	return f.bosses.all()
}

// Spawn spawns a boss of the kind at pos and starts tracking it.
func (f *Feature) Spawn(tx *world.Tx, k mob.Kind, pos mgl64.Vec3) *world.EntityHandle {
	h := f.l.Mobs.Spawn(tx, k, pos)
	st := &Stats{Kind: k, Handle: h, MaxHealth: f.l.Mobs.MaxHealth(k)}
	if isl, ok := f.l.Islands.IslandAt(cube.PosFromVec3(pos)); ok {
		st.Island = isl.Owner
	}
	f.bosses.add(h.UUID(), st)
	f.log.Info("Boss spawned.", "kind", k, "island", st.Island, "pos", pos)
	return h
}

func (f *Feature) hurt(h mob.Hurt) {
	if !h.Kind.Boss() || h.Handle == nil {
		return
	}
	id := h.Handle.UUID()
	st, advanced, ok := f.bosses.hurt(id, h.Health)
	if !ok {
		return
	}
	if st.Kind == mob.Wither && st.Phase > 0 && h.Immunity != nil {
		*h.Immunity += time.Duration(st.Phase) * phaseImmunity
	}
	pos := h.Pos
	f.l.Scheduler.Sync(f.l.Nether, func(tx *world.Tx) {
		if advanced > 0 && st.Kind == mob.Wraith && !h.Lethal {
			f.summonMinions(tx, id, pos, advanced*minionsPerPhase)
		}
		f.showBar(tx, id, st, pos)
	})
}

func (f *Feature) summonMinions(tx *world.Tx, boss uuid.UUID, pos mgl64.Vec3, n int) {
	ids := make([]uuid.UUID, 0, n)
	for i := range n {
		off := mgl64.Vec3{float64(i%2)*4 - 2, 0, float64(i/2%2)*4 - 2}
		ids = append(ids, f.l.Mobs.Spawn(tx, mob.WitherSkeleton, pos.Add(off)).UUID())
	}
	f.bosses.summoned(boss, ids)
}

func bar(st Stats) bossbar.BossBar {
	title := text.Colourf("<dark-purple>The Wither</dark-purple>")
	colour := bossbar.Purple()
	if st.Kind == mob.Wraith {
		title = text.Colourf("<aqua>The Wraith</aqua>")
		colour = bossbar.Blue()
	}
	return bossbar.New(title).WithHealthPercentage(st.Health / st.MaxHealth).WithColour(colour)
}

// showBar sends the boss bar to every player within range of pos and removes
// it from those who left the range.
func (f *Feature) showBar(tx *world.Tx, id uuid.UUID, st Stats, pos mgl64.Vec3) {
	b := bar(st)
	viewers := make(map[uuid.UUID]struct{})
	for e := range tx.Players() {
		p := e.(*player.Player)
		if p.Position().Sub(pos).Len() > barRange {
			continue
		}
		p.SendBossBar(b)
		viewers[p.UUID()] = struct{}{}
	}
	for v := range f.bosses.setViewers(id, viewers) {
		if _, ok := viewers[v]; !ok {
			removeBar(tx, v)
		}
	}
}

func removeBar(tx *world.Tx, id uuid.UUID) {
	for e := range tx.Players() {
		if p := e.(*player.Player); p.UUID() == id {
			p.RemoveBossBar()
			return
		}
	}
}

func (f *Feature) tick() {
	bosses := f.bosses.all()
	if len(bosses) == 0 {
		return
	}
	cfg := f.l.Config.Boss
	f.l.Scheduler.Sync(f.l.Nether, func(tx *world.Tx) {
		for _, st := range bosses {
			e, ok := st.Handle.Entity(tx)
			if !ok {
				continue
			}
			pos := e.Position()
			for pe := range tx.Players() {
				p := pe.(*player.Player)
				if p.Position().Sub(pos).Len() > cfg.PulseRadius || p.GameMode() == world.GameModeCreative {
					continue
				}
				p.Hurt(cfg.PulseDamage, entity.AttackDamageSource{Attacker: e})
				p.AddEffect(effect.New(effect.Wither, 1, witherEffect))
			}
			f.showBar(tx, st.Handle.UUID(), st, pos)
		}
	})
}

func (f *Feature) death(tx *world.Tx, d mob.Death) {
	if tx == nil {
		return
	}
	if d.Kind == mob.WitherSkeleton {
		if !f.bosses.minion(d.ID) && f.l.InNether(tx) && rand.Float64() < f.l.Config.Boss.WraithChance {
			f.Spawn(tx, mob.Wraith, d.Pos)
			f.announce(tx, d.Pos, text.Colourf("<aqua>A Wraith rises from the bones.</aqua>"))
		}
		return
	}
	st, ok := f.forget(tx, d.ID)
	if !ok {
		return
	}
	for _, s := range Rewards(st.Kind) {
		tx.AddEntity(entity.NewItem(world.EntitySpawnOpts{Position: d.Pos}, s))
	}
	f.l.AdvanceID(tx, d.Killer, challenge.TriggerBoss, st.Kind.String(), 1)
	f.l.Audit.Log(audit.Event{
		Kind: audit.KindBoss, Player: d.Killer, Island: st.Island,
		Detail: map[string]any{"boss": st.Kind.String(), "minions": st.Minions},
	})
	f.announce(tx, d.Pos, text.Colourf("<gold>%s has been defeated.</gold>", displayName(st.Kind)))
	f.log.Info("Boss defeated.", "kind", st.Kind, "killer", d.Killer, "island", st.Island)
}

// despawn forgets bosses and minions that left the world alive.
func (f *Feature) despawn(tx *world.Tx, id uuid.UUID, k mob.Kind) {
	if k == mob.WitherSkeleton {
		f.bosses.minion(id)
		return
	}
	if st, ok := f.forget(tx, id); ok {
		f.log.Info("Boss despawned.", "kind", st.Kind, "island", st.Island)
	}
}

// forget stops tracking a boss and hides its bar.
func (f *Feature) forget(tx *world.Tx, id uuid.UUID) (Stats, bool) {
	st, ok := f.bosses.remove(id)
	if !ok || tx == nil {
		return st, ok
	}
	for v := range st.Viewers {
		removeBar(tx, v)
	}
	return st, true
}

func displayName(k mob.Kind) string {
	if k == mob.Wraith {
		return "The Wraith"
	}
	return "The Wither"
}

func (f *Feature) announce(tx *world.Tx, pos mgl64.Vec3, msg string) {
	for e := range tx.Players() {
		if p := e.(*player.Player); p.Position().Sub(pos).Len() <= barRange {
			p.Message(msg)
		}
	}
}

// Rewards returns the items dropped when a boss of the kind dies.
func Rewards(k mob.Kind) []item.Stack {
	switch k {
	case mob.Wither:
		return []item.Stack{item.NewStack(item.NetherStar{}, 1)}
	case mob.Wraith:
		essence := item.NewStack(item.GhastTear{}, 1).
			WithCustomName(text.Colourf("<aqua>Wraith Essence</aqua>")).
			WithValue("hellblock:essence", "wraith")
		return []item.Stack{essence, item.NewStack(item.Bone{}, 8)}
	}
	return nil
}

type playerHandler struct {
	player.NopHandler
	f *Feature
}

func (h playerHandler) HandleBlockPlace(ctx *player.Context, pos cube.Pos, b world.Block) {
	if !isWitherSkull(b) {
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
	pattern, ok := WitherPattern(placed{BlockSource: tx, pos: pos, b: b}, pos)
	if !ok {
		return
	}
	ctx.Cancel()
	for _, bp := range pattern.Blocks {
		if bp != pos {
			tx.SetBlock(bp, nil, nil)
		}
	}
	if p.GameMode() != world.GameModeCreative {
		main, off := p.HeldItems()
		p.SetHeldItems(main.Grow(-1), off)
	}
	h.f.Spawn(tx, mob.Wither, pattern.Base.Vec3Middle())
	h.f.announce(tx, pattern.Base.Vec3(), text.Colourf("<dark-purple>%s summoned the Wither.</dark-purple>", p.Name()))
	h.f.l.Audit.Log(audit.Event{
		Kind: audit.KindBoss, Player: p.UUID(), Island: isl.Owner,
		Detail: map[string]any{"summoned": mob.Wither.String(), "pos": fmt.Sprint(pattern.Base)},
	})
}
