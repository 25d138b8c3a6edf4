package service

import (
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Stacks resolves rewards into item stacks, skipping items unknown to the
// server.
func Stacks(rewards []challenge.Reward) []item.Stack {
	out := make([]item.Stack, 0, len(rewards))
	for _, r := range rewards {
		it, ok := world.ItemByName(r.Item, r.Meta)
		if !ok {
			continue
		}
		out = append(out, item.NewStack(it, max(r.Count, 1)))
	}
	return out
}

// Give adds stacks to the inventory of p and drops whatever does not fit at
// its feet.
func Give(tx *world.Tx, p *player.Player, stacks ...item.Stack) {
	for _, s := range stacks {
		n, _ := p.Inventory().AddItem(s)
		if rest := s.Count() - n; rest > 0 {
			opts := world.EntitySpawnOpts{Position: p.Position()}
			tx.AddEntity(entity.NewItem(opts, s.Grow(rest-s.Count())))
		}
	}
}

// Advance advances the challenges of p and hands out the rewards of every
// challenge completed.
func (l *Locator) Advance(tx *world.Tx, p *player.Player, trigger challenge.Trigger, subject string, n int) {
	for _, c := range l.Challenges.Advance(p.UUID(), trigger, subject, n) {
		stacks := Stacks(c.Definition.Rewards)
		for range c.Times {
			Give(tx, p, stacks...)
		}
		p.Message(text.Colourf("<gold>Challenge complete:</gold> <yellow>%s</yellow>", c.Definition.Name))
		detail := map[string]any{"challenge": c.Definition.ID, "times": c.Times}
		var owner uuid.UUID
		if isl, ok := l.Islands.IslandOf(p.UUID()); ok {
			owner = isl.Owner
		}
		l.Audit.Log(audit.Event{Kind: audit.KindChallenge, Player: p.UUID(), Island: owner, Detail: detail})
	}
}

// AdvanceID is Advance for a player identified by UUID. It does nothing if
// the player is not in the world of tx.
func (l *Locator) AdvanceID(tx *world.Tx, id uuid.UUID, trigger challenge.Trigger, subject string, n int) {
	if id == uuid.Nil || l.Player == nil {
		return
	}
	h, ok := l.Player(id)
	if !ok {
		return
	}
	e, ok := h.Entity(tx)
	if !ok {
		return
	}
	if p, ok := e.(*player.Player); ok {
		l.Advance(tx, p, trigger, subject, n)
	}
}
