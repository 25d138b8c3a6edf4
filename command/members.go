package command

import (
	"errors"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/feature/portal"
	"github.com/dm-vev/hellblock/island"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

type inviteCommand struct {
	playerOnly
	Invite  cmd.SubCommand `cmd:"invite"`
	Targets []cmd.Target   `cmd:"player"`
	r       *runner
}

type kickCommand struct {
	playerOnly
	Kick    cmd.SubCommand `cmd:"kick"`
	Targets []cmd.Target   `cmd:"player"`
	r       *runner
}

type leaveCommand struct {
	playerOnly
	Leave cmd.SubCommand `cmd:"leave"`
	r     *runner
}

type linkCommand struct {
	playerOnly
	Link    cmd.SubCommand `cmd:"link"`
	Targets []cmd.Target   `cmd:"player"`
	r       *runner
}

type unlinkCommand struct {
	playerOnly
	Unlink cmd.SubCommand `cmd:"unlink"`
	r      *runner
}

type lockCommand struct {
	playerOnly
	Lock cmd.SubCommand `cmd:"lock"`
	r    *runner
}

type unlockCommand struct {
	playerOnly
	Unlock cmd.SubCommand `cmd:"unlock"`
	r      *runner
}

// target returns the single other player named by targets.
func target(o *cmd.Output, self *player.Player, targets []cmd.Target) (*player.Player, bool) {
	if len(targets) != 1 {
		o.Error("Name exactly one player.")
		return nil, false
	}
	t, ok := targets[0].(*player.Player)
	if !ok {
		o.Error("That is not a player.")
		return nil, false
	}
	if t.UUID() == self.UUID() {
		o.Error("You cannot do that to yourself.")
		return nil, false
	}
	return t, true
}

func (c inviteCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	t, ok := target(o, p, c.Targets)
	if !ok {
		return
	}
	ctx, cancel := c.r.ctx()
	defer cancel()
	if _, err := c.r.l.Islands.AddMember(ctx, isl.Owner, t.UUID()); err != nil {
		o.Error(explain(err))
		return
	}
	c.r.l.Audit.Log(audit.Event{Kind: audit.KindIsland, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{
		"action": "invite", "member": t.UUID().String(),
	}})
	t.Message(text.Colourf("<green>You joined the island of %s.</green> Use /hellblock home to go there.", p.Name()))
	o.Print(text.Colourf("<green>%s joined your island.</green>", t.Name()))
}

func (c kickCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	t, ok := target(o, p, c.Targets)
	if !ok {
		return
	}
	ctx, cancel := c.r.ctx()
	defer cancel()
	if _, err := c.r.l.Islands.RemoveMember(ctx, isl.Owner, t.UUID()); err != nil {
		o.Error(explain(err))
		return
	}
	c.r.l.Audit.Log(audit.Event{Kind: audit.KindIsland, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{
		"action": "kick", "member": t.UUID().String(),
	}})
	t.Message(text.Colourf("<red>You were removed from the island of %s.</red>", p.Name()))
	o.Print(text.Colourf("<yellow>%s was removed from your island.</yellow>", t.Name()))
}

func (c leaveCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.l.Islands.IslandOf(p.UUID())
	if !ok {
		o.Error("You do not belong to an island.")
		return
	}
	if isl.Owner == p.UUID() {
		o.Error("Owners cannot leave their island. Use /hellblock reset instead.")
		return
	}
	ctx, cancel := c.r.ctx()
	defer cancel()
	if _, err := c.r.l.Islands.RemoveMember(ctx, isl.Owner, p.UUID()); err != nil {
		o.Error(explain(err))
		return
	}
	c.r.l.Audit.Log(audit.Event{Kind: audit.KindIsland, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{"action": "leave"}})
	o.Print(text.Colourf("<yellow>You left the island of %s.</yellow>", c.r.l.DisplayName(isl.Owner)))
}

func (c linkCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	t, ok := target(o, p, c.Targets)
	if !ok {
		return
	}
	dst, ok := c.r.l.Islands.IslandOf(t.UUID())
	if !ok {
		o.Error(explain(island.ErrNoIsland))
		return
	}
	ctx, cancel := c.r.ctx()
	defer cancel()
	if _, err := portal.Link(ctx, c.r.l.Islands, isl.Owner, dst.Owner); err != nil {
		if errors.Is(err, portal.ErrSelfLink) {
			o.Error("Your portal already leads home.")
			return
		}
		o.Error(explain(err))
		return
	}
	c.r.l.Audit.Log(audit.Event{Kind: audit.KindPortal, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{
		"action": "link", "to": dst.Owner.String(),
	}})
	o.Print(text.Colourf("<dark-purple>Your portal now leads to the island of %s.</dark-purple>", c.r.l.DisplayName(dst.Owner)))
}

func (c unlinkCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	ctx, cancel := c.r.ctx()
	defer cancel()
	if _, err := portal.Unlink(ctx, c.r.l.Islands, isl.Owner); err != nil {
		o.Error(explain(err))
		return
	}
	o.Print(text.Colourf("<dark-purple>Your portal leads home again.</dark-purple>"))
}

func (c lockCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	c.r.setLocked(src.(*player.Player), o, true)
}

func (c unlockCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	c.r.setLocked(src.(*player.Player), o, false)
}

func (r *runner) setLocked(p *player.Player, o *cmd.Output, locked bool) {
	isl, ok := r.owned(o, p)
	if !ok {
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	if _, err := r.l.Islands.Update(ctx, isl.Owner, func(isl *island.Island) error {
		isl.Locked = locked
		return nil
	}); err != nil {
		r.log.Error("Failed to lock island.", "owner", isl.Owner, "err", err)
		o.Error(explain(err))
		return
	}
	if locked {
		o.Print(text.Colourf("<yellow>Your island is locked.</yellow> Only members can link their portals to it."))
		return
	}
	o.Print(text.Colourf("<green>Your island is open to visitors.</green>"))
}
