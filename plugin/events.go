package plugin

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
)

// JoinHandler is called on the player's world goroutine when a player joins.
type JoinHandler func(p *player.Player)

type eventRegistration[T any] struct {
	feature string
	handler T
	id      uint64
}

type eventList[T any] struct {
	regs []eventRegistration[T]
	next uint64
}

func (l *eventList[T]) add(feature string, handler T) uint64 {
	id := l.next
	l.next++
	l.regs = append(l.regs, eventRegistration[T]{feature: feature, handler: handler, id: id})
	return id
}

func (l *eventList[T]) removeByID(id uint64) {
	l.filter(func(reg eventRegistration[T]) bool { return reg.id != id })
}

func (l *eventList[T]) removeFeature(feature string) {
	l.filter(func(reg eventRegistration[T]) bool { return reg.feature != feature })
}

func (l *eventList[T]) filter(keep func(eventRegistration[T]) bool) {
	if len(l.regs) == 0 {
		return
	}
	regs := make([]eventRegistration[T], 0, len(l.regs))
	for _, reg := range l.regs {
		if keep(reg) {
			regs = append(regs, reg)
		}
	}
	l.regs = regs
}

func (l *eventList[T]) rename(oldName, newName string) {
	if oldName == newName {
		return
	}
	for i := range l.regs {
		if l.regs[i].feature == oldName {
			l.regs[i].feature = newName
		}
	}
}

func (l *eventList[T]) snapshot() []eventRegistration[T] {
	if len(l.regs) == 0 {
		return nil
	}
	out := make([]eventRegistration[T], len(l.regs))
	copy(out, l.regs)
	return out
}

// chain holds a registration list together with an atomically published
// snapshot of it, so that dispatch never takes the hub lock.
type chain[T any] struct {
	list eventList[T]
	snap atomic.Pointer[[]eventRegistration[T]]
}

func (c *chain[T]) publish() {
	s := c.list.snapshot()
	c.snap.Store(&s)
}

func (c *chain[T]) load() []eventRegistration[T] {
	if s := c.snap.Load(); s != nil {
		return *s
	}
	return nil
}

type eventHub[S any] struct {
	mu      sync.Mutex
	log     *slog.Logger
	manager *Manager[S]
	player  chain[player.Handler]
	world   chain[world.Handler]
	join    chain[JoinHandler]
}

func newEventHub[S any](manager *Manager[S], log *slog.Logger) *eventHub[S] {
	return &eventHub[S]{manager: manager, log: log.With("subsystem", "plugin.events")}
}

func register[S any, T any](hub *eventHub[S], c *chain[T], feature string, handler T) func() {
	hub.mu.Lock()
	id := c.list.add(feature, handler)
	c.publish()
	hub.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			hub.mu.Lock()
			c.list.removeByID(id)
			c.publish()
			hub.mu.Unlock()
		})
	}
}

func (pe *eventHub[S]) addPlayer(feature string, handler player.Handler) func() {
	if handler == nil {
		return func() {}
	}
	return register(pe, &pe.player, feature, handler)
}

func (pe *eventHub[S]) addWorld(feature string, handler world.Handler) func() {
	if handler == nil {
		return func() {}
	}
	return register(pe, &pe.world, feature, handler)
}

func (pe *eventHub[S]) addJoin(feature string, handler JoinHandler) func() {
	if handler == nil {
		return func() {}
	}
	return register(pe, &pe.join, feature, handler)
}

func (pe *eventHub[S]) clear(feature string) {
	pe.mu.Lock()
	pe.player.list.removeFeature(feature)
	pe.world.list.removeFeature(feature)
	pe.join.list.removeFeature(feature)
	pe.publishAll()
	pe.mu.Unlock()
}

func (pe *eventHub[S]) rename(oldName, newName string) {
	if newName == "" || oldName == newName {
		return
	}
	pe.mu.Lock()
	pe.player.list.rename(oldName, newName)
	pe.world.list.rename(oldName, newName)
	pe.join.list.rename(oldName, newName)
	pe.publishAll()
	pe.mu.Unlock()
}

func (pe *eventHub[S]) publishAll() {
	pe.player.publish()
	pe.world.publish()
	pe.join.publish()
}

func (pe *eventHub[S]) fireJoin(p *player.Player) {
	for _, reg := range pe.join.load() {
		handler := reg.handler
		pe.invoke(reg.feature, func() { handler(p) })
	}
}

func (pe *eventHub[S]) invoke(feature string, call func()) {
	if feature == "" {
		call()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			pe.manager.handleFeaturePanic(feature, r)
		}
	}()
	call()
}

type cancellable interface {
	Cancelled() bool
}

func dispatch[S any, T any](hub *eventHub[S], regs []eventRegistration[T], ctx cancellable, fn func(T)) {
	for _, reg := range regs {
		handler := reg.handler
		hub.invoke(reg.feature, func() { fn(handler) })
		if ctx != nil && ctx.Cancelled() {
			return
		}
	}
}

// playerHandlerChain fans player events out to every registered handler in
// registration order. Dispatch stops at the first handler that cancels the
// event. Events no feature listens to fall through to the embedded NopHandler.
type playerHandlerChain[S any] struct {
	player.NopHandler
	hub *eventHub[S]
}

func (c *playerHandlerChain[S]) callCtx(ctx cancellable, fn func(player.Handler)) {
	dispatch(c.hub, c.hub.player.load(), ctx, fn)
}

func (c *playerHandlerChain[S]) call(fn func(player.Handler)) {
	dispatch(c.hub, c.hub.player.load(), nil, fn)
}

func (c *playerHandlerChain[S]) HandleMove(ctx *player.Context, newPos mgl64.Vec3, newRot cube.Rotation) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleMove(ctx, newPos, newRot) })
}

func (c *playerHandlerChain[S]) HandleTeleport(ctx *player.Context, pos mgl64.Vec3) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleTeleport(ctx, pos) })
}

func (c *playerHandlerChain[S]) HandleChangeWorld(p *player.Player, before, after *world.World) {
	c.call(func(h player.Handler) { h.HandleChangeWorld(p, before, after) })
}

func (c *playerHandlerChain[S]) HandleChat(ctx *player.Context, message *string) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleChat(ctx, message) })
}

func (c *playerHandlerChain[S]) HandleHurt(ctx *player.Context, damage *float64, immune bool, attackImmunity *time.Duration, src world.DamageSource) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleHurt(ctx, damage, immune, attackImmunity, src) })
}

func (c *playerHandlerChain[S]) HandleDeath(p *player.Player, src world.DamageSource, keepInv *bool) {
	c.call(func(h player.Handler) { h.HandleDeath(p, src, keepInv) })
}

func (c *playerHandlerChain[S]) HandleRespawn(p *player.Player, pos *mgl64.Vec3, w **world.World) {
	c.call(func(h player.Handler) { h.HandleRespawn(p, pos, w) })
}

func (c *playerHandlerChain[S]) HandleStartBreak(ctx *player.Context, pos cube.Pos) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleStartBreak(ctx, pos) })
}

func (c *playerHandlerChain[S]) HandleBlockBreak(ctx *player.Context, pos cube.Pos, drops *[]item.Stack, xp *int) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleBlockBreak(ctx, pos, drops, xp) })
}

func (c *playerHandlerChain[S]) HandleBlockPlace(ctx *player.Context, pos cube.Pos, b world.Block) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleBlockPlace(ctx, pos, b) })
}

func (c *playerHandlerChain[S]) HandleItemUse(ctx *player.Context) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleItemUse(ctx) })
}

func (c *playerHandlerChain[S]) HandleItemUseOnBlock(ctx *player.Context, pos cube.Pos, face cube.Face, clickPos mgl64.Vec3) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleItemUseOnBlock(ctx, pos, face, clickPos) })
}

func (c *playerHandlerChain[S]) HandleItemUseOnEntity(ctx *player.Context, e world.Entity) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleItemUseOnEntity(ctx, e) })
}

func (c *playerHandlerChain[S]) HandleItemConsume(ctx *player.Context, it item.Stack) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleItemConsume(ctx, it) })
}

func (c *playerHandlerChain[S]) HandleAttackEntity(ctx *player.Context, e world.Entity, force, height *float64, critical *bool) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleAttackEntity(ctx, e, force, height, critical) })
}

func (c *playerHandlerChain[S]) HandleItemDrop(ctx *player.Context, it item.Stack) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleItemDrop(ctx, it) })
}

func (c *playerHandlerChain[S]) HandleCommandExecution(ctx *player.Context, command cmd.Command, args []string) {
	c.callCtx(ctx, func(h player.Handler) { h.HandleCommandExecution(ctx, command, args) })
}

func (c *playerHandlerChain[S]) HandleQuit(p *player.Player) {
	c.call(func(h player.Handler) { h.HandleQuit(p) })
	c.hub.manager.presence.remove(p.UUID())
}

// worldHandlerChain is the world counterpart of playerHandlerChain.
type worldHandlerChain[S any] struct {
	world.NopHandler
	hub *eventHub[S]
}

func (c *worldHandlerChain[S]) callCtx(ctx cancellable, fn func(world.Handler)) {
	dispatch(c.hub, c.hub.world.load(), ctx, fn)
}

func (c *worldHandlerChain[S]) call(fn func(world.Handler)) {
	dispatch(c.hub, c.hub.world.load(), nil, fn)
}

func (c *worldHandlerChain[S]) HandleLiquidFlow(ctx *world.Context, from, into cube.Pos, liquid world.Liquid, replaced world.Block) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleLiquidFlow(ctx, from, into, liquid, replaced) })
}

func (c *worldHandlerChain[S]) HandleLiquidDecay(ctx *world.Context, pos cube.Pos, before, after world.Liquid) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleLiquidDecay(ctx, pos, before, after) })
}

func (c *worldHandlerChain[S]) HandleLiquidHarden(ctx *world.Context, hardenedPos cube.Pos, liquidHardened, otherLiquid, newBlock world.Block) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleLiquidHarden(ctx, hardenedPos, liquidHardened, otherLiquid, newBlock) })
}

func (c *worldHandlerChain[S]) HandleFireSpread(ctx *world.Context, from, to cube.Pos) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleFireSpread(ctx, from, to) })
}

func (c *worldHandlerChain[S]) HandleBlockBurn(ctx *world.Context, pos cube.Pos) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleBlockBurn(ctx, pos) })
}

func (c *worldHandlerChain[S]) HandleEntitySpawn(tx *world.Tx, e world.Entity) {
	c.call(func(h world.Handler) { h.HandleEntitySpawn(tx, e) })
}

func (c *worldHandlerChain[S]) HandleEntityDespawn(tx *world.Tx, e world.Entity) {
	c.call(func(h world.Handler) { h.HandleEntityDespawn(tx, e) })
}

func (c *worldHandlerChain[S]) HandleExplosion(ctx *world.Context, position mgl64.Vec3, entities *[]world.Entity, blocks *[]cube.Pos, itemDropChance *float64, spawnFire *bool) {
	c.callCtx(ctx, func(h world.Handler) { h.HandleExplosion(ctx, position, entities, blocks, itemDropChance, spawnFire) })
}

func (c *worldHandlerChain[S]) HandleClose(tx *world.Tx) {
	c.call(func(h world.Handler) { h.HandleClose(tx) })
}
