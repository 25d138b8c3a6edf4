// Package hellblock assembles the hellblock gameplay features on top of a
// dragonfly server: islands in a void nether, lava generators, themed mobs,
// bosses, bartering, custom recipes, portals and challenges.
package hellblock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/feature/barter"
	"github.com/dm-vev/hellblock/feature/boss"
	"github.com/dm-vev/hellblock/feature/crafting"
	"github.com/dm-vev/hellblock/feature/generator"
	"github.com/dm-vev/hellblock/feature/hopper"
	"github.com/dm-vev/hellblock/feature/islands"
	"github.com/dm-vev/hellblock/feature/portal"
	"github.com/dm-vev/hellblock/feature/progress"
	"github.com/dm-vev/hellblock/feature/spawning"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/dm-vev/hellblock/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// saveDelay is how long challenge progress is kept in memory after a
	// change before it is written.
	saveDelay = 5 * time.Second
	// startTimeout bounds opening the store and loading every island.
	startTimeout = time.Minute
	auditPrefix  = "hellblock"
)

// Features lists every feature in the order it is enabled. Island protection
// comes first so that it can cancel events before other features see them.
var Features = []struct {
	Name    string
	Factory service.Factory
}{
	{islands.Name, islands.New},
	{progress.Name, progress.New},
	{generator.Name, generator.New},
	{hopper.Name, hopper.New},
	{spawning.Name, spawning.New},
	{boss.Name, boss.New},
	{barter.Name, barter.New},
	{crafting.Name, crafting.New},
	{portal.Name, portal.New},
}

// Plugin is a running hellblock instance.
type Plugin struct {
	log     *slog.Logger
	store   storage.Provider
	audit   audit.Logger
	sched   *scheduler.Scheduler
	l       *service.Locator
	manager *plugin.Manager[*service.Locator]
}

// New opens the services configured in cfg and enables every feature. A
// feature failing to enable is logged and skipped.
func New(host plugin.Host, cfg config.Config) (*Plugin, error) {
	log := host.Logger()
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	var (
		store storage.Provider
		cat   *challenge.Catalogue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		store, err = storage.Open(gctx, cfg.Storage, cfg.Server.DataFolder)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		cat, err = challenge.LoadCatalogue(cfg.Challenges.File)
		return err
	})
	if err := g.Wait(); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	p := &Plugin{log: log, store: store, audit: audit.Nop{}}
	if cfg.Audit.Enabled {
		w, err := audit.Open(filepath.Join(cfg.Server.DataFolder, cfg.Audit.Folder), auditPrefix, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		p.audit = w
	}

	grid := island.Grid{Spacing: cfg.Island.Spacing, Size: cfg.Island.Size, Y: cfg.Island.Y, Range: world.Nether.Range()}
	reg := island.NewRegistry(store, grid, cfg.Island.MaxMembers, log)
	if err := reg.LoadAll(ctx); err != nil {
		_ = p.audit.Close()
		_ = store.Close()
		return nil, fmt.Errorf("load islands: %w", err)
	}
	p.sched = scheduler.New(log, scheduler.Config{})

	p.l = &service.Locator{
		Config:     cfg,
		Islands:    reg,
		Challenges: challenge.NewTracker(cat, store, p.sched, saveDelay, log),
		Scheduler:  p.sched,
		Audit:      p.audit,
		Mobs: mob.NewTracker(map[mob.Kind]float64{
			mob.Wither: cfg.Boss.WitherHealth,
			mob.Wraith: cfg.Boss.WraithHealth,
		}, log),
		Nether: host.Nether(),
		Player: host.Player,
	}
	p.manager = plugin.NewManager(host, plugin.Config{DataDirectory: filepath.Join(cfg.Server.DataFolder, "features")}, p.l)
	p.l.Features = p.manager
	p.l.Name = func(id uuid.UUID) (string, bool) {
		s, ok := p.manager.Presence().Summary(id)
		return s.Name, ok
	}

	for _, f := range Features {
		if _, err := p.manager.Enable(f.Name, f.Factory); err != nil {
			log.Error("Failed to enable feature.", "name", f.Name, "err", err)
		}
	}
	log.Info("Hellblock started.", "islands", reg.Len(), "features", len(p.manager.Infos()))
	return p, nil
}

// Services returns the services shared by the features.
func (p *Plugin) Services() *service.Locator { return p.l }

// Manager returns the feature manager.
func (p *Plugin) Manager() *plugin.Manager[*service.Locator] { return p.manager }

// Accept attaches the feature handlers to a player that joined and runs the
// join listeners. It must be called on the player's world goroutine.
func (p *Plugin) Accept(pl *player.Player) {
	pl.Handle(p.manager.PlayerHandler())
	p.manager.Join(pl)
}

// Handle attaches the feature handlers to w.
func (p *Plugin) Handle(w *world.World) {
	w.Handle(worldHandler{Handler: p.manager.WorldHandler(), mobs: p.l.Mobs})
}

// Close disables every feature and closes the services in reverse order of
// opening.
func (p *Plugin) Close() error {
	p.manager.Shutdown()
	var errs []error
	if err := p.sched.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close scheduler: %w", err))
	}
	if err := p.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	if err := p.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	p.log.Info("Hellblock stopped.")
	return errors.Join(errs...)
}

// worldHandler reports despawned mobs to the tracker after the features saw
// the event.
type worldHandler struct {
	world.Handler
	mobs *mob.Tracker
}

func (h worldHandler) HandleEntityDespawn(tx *world.Tx, e world.Entity) {
	h.Handler.HandleEntityDespawn(tx, e)
	h.mobs.HandleDespawn(tx, e)
}
