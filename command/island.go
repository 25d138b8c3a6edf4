package command

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/feature/generator"
	"github.com/dm-vev/hellblock/feature/hopper"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

type createCommand struct {
	playerOnly
	Create cmd.SubCommand          `cmd:"create"`
	Theme  cmd.Optional[themeName] `cmd:"theme"`
	r      *runner
}

type homeCommand struct {
	playerOnly
	Home cmd.SubCommand `cmd:"home"`
	r    *runner
}

type infoCommand struct {
	playerOnly
	Info cmd.SubCommand `cmd:"info"`
	r    *runner
}

type upgradeCommand struct {
	playerOnly
	Upgrade cmd.SubCommand `cmd:"upgrade"`
	Kind    upgradeName    `cmd:"kind"`
	r       *runner
}

type resetCommand struct {
	playerOnly
	Reset cmd.SubCommand `cmd:"reset"`
	r     *runner
}

func (c createCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	id := p.UUID()
	if _, ok := c.r.l.Islands.IslandOf(id); ok {
		o.Error("You already belong to an island. Use /hellblock home.")
		return
	}
	theme, err := island.ParseTheme(c.r.l.Config.Island.DefaultTheme)
	if t, ok := c.Theme.Load(); ok {
		theme, err = island.ParseTheme(string(t))
	}
	if err != nil {
		o.Error(err)
		return
	}
	if !c.r.throttle.Allow(id) {
		o.Errorf("You can create or reset an island again in %v.", c.r.throttle.Wait(id).Round(time.Second))
		return
	}
	o.Print(text.Colourf("<gray>Creating your island...</gray>"))
	c.r.create(id, theme, "create")
}

// create creates and builds the island of id, then sends the player home.
func (r *runner) create(id uuid.UUID, theme island.Theme, action string) {
	scheduler.Load(r.l.Scheduler, r.l.Nether, func(ctx context.Context) (*island.Island, error) {
		return r.l.Islands.Create(ctx, id, theme)
	}, func(tx *world.Tx, isl *island.Island) {
		n := island.BuildStarter(tx, r.l.Grid(), isl)
		r.l.SendHome(id, isl.Home)
		r.l.Audit.Log(audit.Event{Kind: audit.KindIsland, Player: id, Island: id, Detail: map[string]any{
			"action": action, "theme": string(isl.Theme), "slot": isl.Slot,
		}})
		r.log.Info("Island created.", "owner", id, "slot", isl.Slot, "theme", isl.Theme, "blocks", n)
	}, func(err error) {
		r.log.Error("Failed to create island.", "owner", id, "err", err)
		r.l.WithPlayer(id, func(_ *world.Tx, p *player.Player) {
			p.Message(text.Colourf("<red>Your island could not be created:</red> %v", err))
		})
	})
}

func (c homeCommand) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.l.Islands.IslandOf(p.UUID())
	if !ok {
		o.Error("You have no island. Use /hellblock create.")
		return
	}
	c.r.l.Teleport(tx, p, isl.Home)
	o.Print(text.Colourf("<gray>Welcome home.</gray>"))
}

func (c infoCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.l.Islands.IslandAt(cube.PosFromVec3(p.Position()))
	if !ok {
		if isl, ok = c.r.l.Islands.IslandOf(p.UUID()); !ok {
			o.Error("You have no island. Use /hellblock create.")
			return
		}
	}
	for _, line := range c.r.info(isl) {
		o.Print(line)
	}
}

// info describes isl, one line per entry.
func (r *runner) info(isl *island.Island) []string {
	cfg := r.l.Config
	members := make([]string, 0, len(isl.Members))
	for _, m := range isl.Members {
		members = append(members, r.l.DisplayName(m))
	}
	lines := []string{
		text.Colourf("<gold>Island of %s</gold> <gray>(slot %d, %s)</gray>", r.l.DisplayName(isl.Owner), isl.Slot, displayName(string(isl.Theme))),
		text.Colourf("<yellow>Members:</yellow> %s", cmp.Or(strings.Join(members, ", "), "none")),
		text.Colourf("<yellow>Locked:</yellow> %v", isl.Locked),
	}
	for _, u := range island.Upgrades() {
		lines = append(lines, text.Colourf("<yellow>%s:</yellow> tier %d/%d", displayName(u.String()), isl.Tier(u), cfg.Upgrades.MaxTier))
	}
	lines = append(lines, text.Colourf("<yellow>Hoppers:</yellow> %d/%d", len(isl.Hoppers), hopper.Limit(cfg.Hopper, isl)))
	switch {
	case isl.Portal == nil:
		lines = append(lines, text.Colourf("<yellow>Portal:</yellow> not built"))
	case isl.Link == uuid.Nil:
		lines = append(lines, text.Colourf("<yellow>Portal:</yellow> leads home"))
	default:
		lines = append(lines, text.Colourf("<yellow>Portal:</yellow> leads to %s", r.l.DisplayName(isl.Link)))
	}
	if chances := r.generatorChances(isl.Tier(island.UpgradeGenerator)); len(chances) > 0 {
		lines = append(lines, text.Colourf("<yellow>Generator:</yellow> %s", strings.Join(chances, ", ")))
	}
	return lines
}

// generatorChances lists the generator results at tier, most likely first.
func (r *runner) generatorChances(tier int) []string {
	if r.l.Features == nil {
		return nil
	}
	f, ok := r.l.Features.Feature(generator.Name)
	if !ok {
		return nil
	}
	g, ok := f.(*generator.Feature)
	if !ok {
		return nil
	}
	return formatChances(g.Chances(tier))
}

func formatChances(chances map[string]float64) []string {
	names := slices.SortedFunc(maps.Keys(chances), func(a, b string) int {
		if c := cmp.Compare(chances[b], chances[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = text.Colourf("%s %.1f%%", displayName(name), chances[name]*100)
	}
	return out
}

func (c upgradeCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	u, err := island.ParseUpgrade(string(c.Kind))
	if err != nil {
		o.Error(err)
		return
	}
	cfg := c.r.l.Config.Upgrades
	tier := isl.Tier(u)
	if tier >= cfg.MaxTier {
		o.Errorf("%s is already at the highest tier.", displayName(u.String()))
		return
	}
	price, ok := upgradePrice(cfg, tier)
	if !ok {
		c.r.log.Error("Unknown upgrade cost item.", "item", cfg.CostItem)
		o.Error("Upgrades are unavailable.")
		return
	}
	cost := price.Count()
	var w wallet
	if p.GameMode() != world.GameModeCreative {
		w = p.Inventory()
	}

	ctx, cancel := c.r.ctx()
	defer cancel()
	updated, err := c.r.buyUpgrade(ctx, w, isl.Owner, u, price)
	switch {
	case errors.Is(err, errCannotPay):
		o.Errorf("Upgrading %s to tier %d costs %d %s.", displayName(u.String()), tier+1, cost, displayName(cfg.CostItem))
		return
	case errors.Is(err, island.ErrMaxTier):
		o.Errorf("%s is already at the highest tier.", displayName(u.String()))
		return
	case err != nil:
		o.Error("Your island could not be upgraded.")
		return
	}
	c.r.l.Audit.Log(audit.Event{Kind: audit.KindUpgrade, Player: p.UUID(), Island: isl.Owner, Detail: map[string]any{
		"upgrade": u.String(), "tier": updated.Tier(u), "cost": cost,
	}})
	o.Print(text.Colourf("<green>%s upgraded to tier %d.</green>", displayName(u.String()), updated.Tier(u)))
}

// errCannotPay is returned by buyUpgrade when the price cannot be taken.
var errCannotPay = errors.New("cannot pay for upgrade")

// wallet is the part of an inventory upgrades are paid from.
type wallet interface {
	ContainsItem(it item.Stack) bool
	RemoveItem(it item.Stack) error
	AddItem(it item.Stack) (int, error)
}

// upgradePrice returns the stack charged to raise an upgrade from tier to
// tier+1. It reports false if the cost item is unknown.
func upgradePrice(cfg config.Upgrades, tier int) (item.Stack, bool) {
	it, ok := world.ItemByName(cfg.CostItem, 0)
	if !ok {
		return item.Stack{}, false
	}
	return item.NewStack(it, island.UpgradeCost(cfg.CostPerTier, tier)), true
}

// buyUpgrade takes price from w and then raises u on the island of owner by
// one tier. The payment is given back if the upgrade fails. A nil wallet
// upgrades for free.
func (r *runner) buyUpgrade(ctx context.Context, w wallet, owner uuid.UUID, u island.Upgrade, price item.Stack) (*island.Island, error) {
	if w != nil {
		if !w.ContainsItem(price) {
			return nil, errCannotPay
		}
		if err := w.RemoveItem(price); err != nil {
			r.log.Warn("Failed to take upgrade payment.", "owner", owner, "err", err)
			return nil, errCannotPay
		}
	}
	updated, err := r.l.Islands.Upgrade(ctx, owner, u, r.l.Config.Upgrades.MaxTier)
	if err != nil {
		if w != nil {
			if _, rerr := w.AddItem(price); rerr != nil {
				r.log.Error("Failed to refund upgrade payment.", "owner", owner, "err", rerr)
			}
		}
		if !errors.Is(err, island.ErrMaxTier) {
			r.log.Error("Failed to upgrade island.", "owner", owner, "upgrade", u, "err", err)
		}
		return nil, err
	}
	return updated, nil
}

func (c resetCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p := src.(*player.Player)
	isl, ok := c.r.owned(o, p)
	if !ok {
		return
	}
	id := p.UUID()
	if !c.r.throttle.Allow(id) {
		o.Errorf("You can create or reset an island again in %v.", c.r.throttle.Wait(id).Round(time.Second))
		return
	}
	slot, theme := isl.Slot, isl.Theme
	o.Print(text.Colourf("<gray>Resetting your island...</gray>"))
	scheduler.Run(c.r.l.Scheduler, c.r.l.Nether, func(ctx context.Context) error {
		return c.r.l.Islands.Delete(ctx, id)
	}, func(tx *world.Tx) {
		island.ClearBox(tx, c.r.l.Grid(), slot)
		c.r.forgetGenerators(slot)
		c.r.l.Challenges.Reset(id)
		c.r.create(id, theme, "reset")
	}, func(err error) {
		c.r.log.Error("Failed to reset island.", "owner", id, "err", err)
	})
}

func (r *runner) forgetGenerators(slot int) {
	if r.l.Features == nil {
		return
	}
	if f, ok := r.l.Features.Feature(generator.Name); ok {
		if g, ok := f.(*generator.Feature); ok {
			g.Forget(slot)
		}
	}
}

// owned returns the island p owns, printing an error if there is none.
func (r *runner) owned(o *cmd.Output, p *player.Player) (*island.Island, bool) {
	isl, ok := r.l.Islands.IslandOf(p.UUID())
	switch {
	case !ok:
		o.Error("You have no island. Use /hellblock create.")
		return nil, false
	case isl.Owner != p.UUID():
		o.Error("Only the owner of the island can do that.")
		return nil, false
	}
	return isl, true
}

// explain turns island errors into messages for players.
func explain(err error) string {
	switch {
	case errors.Is(err, island.ErrNoIsland):
		return "That player has no island."
	case errors.Is(err, island.ErrHasIsland):
		return "That player already belongs to an island."
	case errors.Is(err, island.ErrMemberLimit):
		return "Your island is full."
	case errors.Is(err, island.ErrNotMember):
		return "That player is not a member of your island."
	case errors.Is(err, island.ErrLocked):
		return "That island is locked."
	}
	return "Something went wrong. Try again later."
}
