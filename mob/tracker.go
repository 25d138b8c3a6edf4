package mob

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Hurt describes a hit on a tracked mob. Listeners may lengthen Immunity to
// make the mob tougher.
type Hurt struct {
	Handle    *world.EntityHandle
	Kind      Kind
	Pos       mgl64.Vec3
	Health    float64
	MaxHealth float64
	Damage    float64
	Attacker  uuid.UUID
	Lethal    bool
	Immunity  *time.Duration
}

// Death describes a tracked mob that died. Killer is uuid.Nil if the last hit
// did not come from a player.
type Death struct {
	ID     uuid.UUID
	Kind   Kind
	Pos    mgl64.Vec3
	Killer uuid.UUID
}

type tracked struct {
	kind    Kind
	health  float64
	max     float64
	lastHit uuid.UUID
	lethal  bool
	pos     mgl64.Vec3
}

// Tracker keeps the health of every mob it spawned, derived from the hurt
// events of the mobs, and reports deaths once a mob that took a lethal hit
// leaves the world.
type Tracker struct {
	log *slog.Logger

	mu        sync.Mutex
	entities  map[uuid.UUID]*tracked
	maxHealth map[Kind]float64
	onHurt    listeners[func(h Hurt)]
	onDeath   listeners[func(tx *world.Tx, d Death)]
	onDespawn listeners[func(tx *world.Tx, id uuid.UUID, k Kind)]
}

type listener[F any] struct {
	id uint64
	fn F
}

// listeners is a list of callbacks that shrinks again as they unregister.
type listeners[F any] struct {
	next uint64
	list []listener[F]
}

func (l *listeners[F]) add(fn F) uint64 {
	l.next++
	l.list = append(l.list, listener[F]{id: l.next, fn: fn})
	return l.next
}

func (l *listeners[F]) remove(id uint64) {
	l.list = slices.DeleteFunc(l.list, func(x listener[F]) bool { return x.id == id })
}

func (l *listeners[F]) fns() []F {
	out := make([]F, len(l.list))
	for i, x := range l.list {
		out[i] = x.fn
	}
	return out
}

func (t *Tracker) unregister(remove func(id uint64), id uint64) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		remove(id)
	}
}

// NewTracker creates a Tracker. maxHealth overrides the default max health of
// the kinds it contains.
func NewTracker(maxHealth map[Kind]float64, log *slog.Logger) *Tracker {
	t := &Tracker{
		log:       log.With("subsystem", "mobs"),
		entities:  make(map[uuid.UUID]*tracked),
		maxHealth: make(map[Kind]float64),
	}
	for k, v := range maxHealth {
		if v > 0 {
			t.maxHealth[k] = v
		}
	}
	return t
}

// MaxHealth returns the max health mobs of the kind spawn with.
func (t *Tracker) MaxHealth(k Kind) float64 {
	if v, ok := t.maxHealth[k]; ok {
		return v
	}
	return k.Spec().MaxHealth
}

// OnHurt registers fn to be called, inside the world transaction, whenever a
// tracked mob is hit. It returns a function that unregisters it.
func (t *Tracker) OnHurt(fn func(h Hurt)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unregister(t.onHurt.remove, t.onHurt.add(fn))
}

// OnDeath registers fn to be called, inside the world transaction, whenever
// a tracked mob dies. It returns a function that unregisters it.
func (t *Tracker) OnDeath(fn func(tx *world.Tx, d Death)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unregister(t.onDeath.remove, t.onDeath.add(fn))
}

// OnDespawn registers fn to be called whenever a tracked mob leaves the world
// without dying, for example when it is removed by a command. It returns a
// function that unregisters it.
func (t *Tracker) OnDespawn(fn func(tx *world.Tx, id uuid.UUID, k Kind)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unregister(t.onDespawn.remove, t.onDespawn.add(fn))
}

func (t *Tracker) track(id uuid.UUID, k Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mh := t.MaxHealth(k)
	t.entities[id] = &tracked{kind: k, health: mh, max: mh}
}

// Health returns the health and max health of a tracked mob.
func (t *Tracker) Health(id uuid.UUID) (health, max float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entities[id]
	if !ok {
		return 0, 0, false
	}
	return e.health, e.max, true
}

// Len returns the number of tracked mobs of the kind.
func (t *Tracker) Len(k Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entities {
		if e.kind == k {
			n++
		}
	}
	return n
}

// hurt records a hit. health is the health of the mob before the hit.
func (t *Tracker) hurt(id uuid.UUID, h *world.EntityHandle, k Kind, pos mgl64.Vec3, health, damage float64, immune bool, immunity *time.Duration, from uuid.UUID) {
	t.mu.Lock()
	e, ok := t.entities[id]
	if !ok {
		// Mobs loaded from disk or spawned before a restart are picked up on
		// their first hit.
		e = &tracked{kind: k, max: t.MaxHealth(k)}
		t.entities[id] = e
	}
	e.pos = pos
	if !immune {
		e.health = max(health-damage, 0)
		if from != uuid.Nil {
			e.lastHit = from
		}
		e.lethal = e.health <= 0
	} else {
		e.health = health
	}
	ev := Hurt{
		Handle: h, Kind: e.kind, Pos: pos, Health: e.health, MaxHealth: e.max,
		Damage: damage, Attacker: from, Lethal: e.lethal, Immunity: immunity,
	}
	fns := t.onHurt.fns()
	t.mu.Unlock()

	if immune {
		return
	}
	for _, fn := range fns {
		fn(ev)
	}
}

// HandleDespawn must be called for every entity leaving a world. It forgets
// tracked mobs and reports the death of those whose last hit was lethal.
func (t *Tracker) HandleDespawn(tx *world.Tx, e world.Entity) {
	if e == nil {
		return
	}
	if _, ok := KindOf(e); !ok {
		return
	}
	t.despawned(tx, e.H().UUID(), e.Position())
}

func (t *Tracker) despawned(tx *world.Tx, id uuid.UUID, pos mgl64.Vec3) {
	t.mu.Lock()
	e, ok := t.entities[id]
	delete(t.entities, id)
	deaths, despawns := t.onDeath.fns(), t.onDespawn.fns()
	t.mu.Unlock()
	if !ok {
		return
	}
	if !e.lethal {
		for _, fn := range despawns {
			t.call(func() { fn(tx, id, e.kind) })
		}
		return
	}
	d := Death{ID: id, Kind: e.kind, Pos: pos, Killer: e.lastHit}
	for _, fn := range deaths {
		t.call(func() { fn(tx, d) })
	}
}

func (t *Tracker) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Mob listener panicked.", "panic", r)
		}
	}()
	fn()
}
