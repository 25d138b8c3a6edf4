// Package hbtest builds in-memory hellblock services for feature tests.
package hbtest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/audit"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/mob"
	"github.com/dm-vev/hellblock/plugin"
	"github.com/dm-vev/hellblock/scheduler"
	"github.com/dm-vev/hellblock/service"
	"github.com/dm-vev/hellblock/storage"
	"github.com/google/uuid"
)

// Logger returns a logger discarding everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Host is a plugin.Host without worlds or players.
type Host struct{}

func (Host) Logger() *slog.Logger                         { return Logger() }
func (Host) Nether() *world.World                         { return nil }
func (Host) Player(uuid.UUID) (*world.EntityHandle, bool) { return nil, false }

// Grid is a small grid used by feature tests.
func Grid() island.Grid {
	return island.Grid{Spacing: 64, Size: 32, Y: 64, Range: cube.Range{0, 127}}
}

// Config returns the default runtime configuration. It fails the test if the
// defaults do not validate.
func Config(t testing.TB) config.Config {
	t.Helper()
	cfg, err := config.DefaultConfig().Config()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return cfg
}

// Locator returns services backed by memory storage. Everything is closed
// when the test finishes.
func Locator(t testing.TB, cfg config.Config) *service.Locator {
	t.Helper()
	l, _ := Services(t, cfg)
	return l
}

// Services is Locator that also returns the store behind it.
func Services(t testing.TB, cfg config.Config) (*service.Locator, *storage.Memory) {
	t.Helper()
	log := Logger()
	store := storage.NewMemory()
	sched := scheduler.New(log, scheduler.Config{Workers: 2})
	t.Cleanup(func() { _ = sched.Close() })
	return &service.Locator{
		Config:     cfg,
		Islands:    island.NewRegistry(store, Grid(), cfg.Island.MaxMembers, log),
		Challenges: challenge.NewTracker(challenge.DefaultCatalogue(), store, sched, 0, log),
		Scheduler:  sched,
		Audit:      audit.Nop{},
		Mobs:       mob.NewTracker(nil, log),
	}, store
}

// Manager returns a plugin manager handing l to the features it enables.
// Every feature is shut down when the test finishes.
func Manager(t testing.TB, l *service.Locator) *plugin.Manager[*service.Locator] {
	t.Helper()
	m := plugin.NewManager[*service.Locator](Host{}, plugin.Config{DataDirectory: t.TempDir()}, l)
	l.Features = m
	t.Cleanup(m.Shutdown)
	return m
}
