package mob

import (
	"time"

	"github.com/bedrock-gophers/living/living"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// entityType is the world.EntityType of every hellblock mob. The kind it
// carries is how KindOf recognises spawned mobs.
type entityType struct {
	living.NopLivingType
	kind Kind
}

func (t entityType) EncodeEntity() string { return t.kind.Spec().Identifier }

func (t entityType) BBox(world.Entity) cube.BBox { return t.kind.BBox() }

// Types returns the entity types of every kind, to be added to the entity
// registry of the server.
func Types() []world.EntityType {
	out := make([]world.EntityType, 0, len(specs))
	for _, k := range Kinds() {
		out = append(out, entityType{kind: k})
	}
	return out
}

// KindOf returns the kind of e if it is a hellblock mob.
func KindOf(e world.Entity) (Kind, bool) {
	if e == nil {
		return 0, false
	}
	return kindOfHandle(e.H())
}

func kindOfHandle(h *world.EntityHandle) (Kind, bool) {
	if h == nil {
		return 0, false
	}
	t, ok := h.Type().(entityType)
	return t.kind, ok
}

// CountWithin counts the hellblock mobs within box for which match returns
// true. A nil match counts every mob.
func CountWithin(tx *world.Tx, box cube.BBox, match func(Kind) bool) int {
	n := 0
	for e := range tx.EntitiesWithin(box) {
		k, ok := KindOf(e)
		if ok && (match == nil || match(k)) {
			n++
		}
	}
	return n
}

func drops(k Kind) []living.Drop {
	var out []living.Drop
	for _, d := range k.Spec().Drops {
		it, ok := world.ItemByName(d.Item, 0)
		if !ok {
			continue
		}
		out = append(out, living.NewDrop(it, d.Min, d.Max))
	}
	return out
}

func movement(k Kind) *entity.MovementComputer {
	if k.Spec().Floats {
		return &entity.MovementComputer{Gravity: 0, Drag: 0.02, DragBeforeGravity: true}
	}
	return &entity.MovementComputer{Gravity: 0.08, Drag: 0.02, DragBeforeGravity: true}
}

// handler forwards hurt events of living mobs to the Tracker.
type handler struct {
	living.NopHandler
	t    *Tracker
	kind Kind
}

func (h handler) HandleHurt(ctx living.Context, damage float64, immune bool, immunity *time.Duration, src world.DamageSource) {
	if ctx.Cancelled() {
		return
	}
	l := ctx.Val()
	h.t.hurt(l.H().UUID(), l.H(), h.kind, l.Position(), l.Health(), damage, immune, immunity, attacker(src))
}

// attacker returns the player behind a damage source, if any.
func attacker(src world.DamageSource) uuid.UUID {
	var e world.Entity
	switch s := src.(type) {
	case entity.AttackDamageSource:
		e = s.Attacker
	case entity.ProjectileDamageSource:
		e = s.Owner
	}
	if p, ok := e.(*player.Player); ok {
		return p.UUID()
	}
	return uuid.Nil
}

// Spawn spawns a mob of the kind at pos and starts tracking it.
func (t *Tracker) Spawn(tx *world.Tx, k Kind, pos mgl64.Vec3) *world.EntityHandle {
	conf := living.Config{
		EntityType:       entityType{kind: k},
		Handler:          handler{t: t, kind: k},
		MaxHealth:        t.MaxHealth(k),
		Drops:            drops(k),
		MovementComputer: movement(k),
	}
	h := world.EntitySpawnOpts{Position: pos}.New(conf.EntityType, conf)
	t.track(h.UUID(), k)
	tx.AddEntity(h)
	return h
}
