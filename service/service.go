// Package service holds the shared services handed to every hellblock
// feature through the plugin API.
package service

import (
	"context"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// API is the plugin API specialised for hellblock features.
type API = plugin.API[*Locator]

// Factory constructs a hellblock feature.
type Factory = plugin.Factory[*Locator]

// FeatureControl lets console commands manage enabled features. It is
// implemented by the plugin manager.
type FeatureControl interface {
	Feature(name string) (plugin.Feature, bool)
	Infos() []plugin.Info
	Reload(name string) (plugin.Info, error)
	Disable(name string) (plugin.Info, error)
}

// Locator gives features access to the shared services. It is built once on
// startup and never modified afterwards, except for Features which is set
// once the manager exists.
type Locator struct {
	Config     config.Config
	Islands    *island.Registry
	Challenges *challenge.Tracker
	Scheduler  *scheduler.Scheduler
	Audit      audit.Logger
	Mobs       *mob.Tracker
	Features   FeatureControl
	// Nether is the world islands are built in.
	Nether *world.World
	// Player looks up an online player.
	Player func(id uuid.UUID) (*world.EntityHandle, bool)
	// Name returns the name of an online player.
	Name func(id uuid.UUID) (string, bool)
}

// Grid returns the island grid.
func (l *Locator) Grid() island.Grid {
	return l.Islands.Grid()
}

// Teleport moves p to pos in the nether, moving it out of its current world
// first if needed.
func (l *Locator) Teleport(tx *world.Tx, p *player.Player, pos mgl64.Vec3) {
	if l.Nether == nil || tx.World() == l.Nether {
		p.Teleport(pos)
		return
	}
	h := tx.RemoveEntity(p)
	l.Nether.Exec(func(tx *world.Tx) {
		if np, ok := tx.AddEntity(h).(*player.Player); ok {
			np.Teleport(pos)
		}
	})
}

// WithPlayer runs fn on the world goroutine of the online player id. The
// call is made from the async pool so that WithPlayer may be used from
// within any transaction; it does nothing if the player is offline.
func (l *Locator) WithPlayer(id uuid.UUID, fn func(tx *world.Tx, p *player.Player)) {
	if l.Player == nil {
		return
	}
	l.Scheduler.Async(func(context.Context) {
		h, ok := l.Player(id)
		if !ok {
			return
		}
		h.ExecWorld(func(tx *world.Tx, e world.Entity) {
			if p, ok := e.(*player.Player); ok {
				fn(tx, p)
			}
		})
	})
}

// SendHome teleports the online player id to pos in the nether.
func (l *Locator) SendHome(id uuid.UUID, pos mgl64.Vec3) {
	l.WithPlayer(id, func(tx *world.Tx, p *player.Player) {
		l.Teleport(tx, p, pos)
	})
}

// DisplayName returns the name of id if online, or a short form of the
// UUID otherwise.
func (l *Locator) DisplayName(id uuid.UUID) string {
	if l.Name != nil {
		if name, ok := l.Name(id); ok {
			return name
		}
	}
	return id.String()[:8]
}

// InNether reports whether tx belongs to the island world.
func (l *Locator) InNether(tx *world.Tx) bool {
	return l.Nether != nil && tx.World() == l.Nether
}
