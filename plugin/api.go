package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/google/uuid"
)

// API is handed to every feature factory. It scopes logging, data storage
// and event registrations to the feature and exposes the shared
// services of type S.
type API[S any] struct {
	manager *Manager[S]
	host    Host
	name    atomic.Value // string
	ctx     context.Context
	dataDir string
}

func newAPI[S any](manager *Manager[S], name string, ctx context.Context, dataDir string) *API[S] {
	api := &API[S]{manager: manager, host: manager.host, ctx: ctx, dataDir: filepath.Clean(dataDir)}
	api.name.Store(name)
	return api
}

func (api *API[S]) setName(name string) {
	if name != "" {
		api.name.Store(name)
	}
}

// Name returns the name the feature is registered under.
func (api *API[S]) Name() string {
	if s, ok := api.name.Load().(string); ok && s != "" {
		return s
	}
	return "feature"
}

// Context returns a context that is cancelled when the feature is disabled.
func (api *API[S]) Context() context.Context {
	return api.ctx
}

// Services returns the shared services every feature may use.
func (api *API[S]) Services() S {
	return api.manager.services
}

// Logger returns a logger scoped to the feature's name.
func (api *API[S]) Logger() *slog.Logger {
	return api.manager.log.With("feature", api.Name())
}

// DataDirectory returns the path of the feature's data directory.
func (api *API[S]) DataDirectory() string {
	return api.dataDir
}

func (api *API[S]) resolveDataPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("data path is empty")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("data path must be relative")
	}
	base := api.DataDirectory()
	target := filepath.Join(base, filepath.Clean(name))
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("data path escapes feature directory")
	}
	return target, nil
}

// EnsureDataSubdir ensures a subdirectory inside the feature data directory
// exists and returns its path. An empty name ensures the data directory itself.
func (api *API[S]) EnsureDataSubdir(name string) (string, error) {
	if name == "" {
		dir := api.DataDirectory()
		return dir, os.MkdirAll(dir, 0o755)
	}
	path, err := api.resolveDataPath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// OpenDataFile opens or creates a file within the feature data directory.
func (api *API[S]) OpenDataFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	path, err := api.resolveDataPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if perm == 0 {
		perm = 0o644
	}
	return os.OpenFile(path, flag, perm)
}

// Recover runs fn and converts a panic into the feature being disabled rather
// than crashing the goroutine it runs on. It is meant for callbacks that the
// host invokes outside of the event chains, such as scheduled tasks.
func (api *API[S]) Recover(fn func()) {
	api.manager.events.invoke(api.Name(), fn)
}

// Presence returns the online player registry.
func (api *API[S]) Presence() *Presence {
	return api.manager.presence
}

// MessagePlayer sends a chat message to the player with the UUID passed. It
// reports false if the player is offline.
func (api *API[S]) MessagePlayer(id uuid.UUID, message ...any) bool {
	return api.WithPlayer(id, func(_ *world.Tx, p *player.Player) {
		p.Message(message...)
	})
}

// WithPlayer runs fn on the world goroutine of the player with the UUID
// passed. It blocks until fn returns and reports false if the player is
// offline.
func (api *API[S]) WithPlayer(id uuid.UUID, fn func(tx *world.Tx, p *player.Player)) bool {
	handle, ok := api.host.Player(id)
	if !ok || handle == nil {
		return false
	}
	executed := false
	ok = handle.ExecWorld(func(tx *world.Tx, e world.Entity) {
		if p, ok := e.(*player.Player); ok {
			fn(tx, p)
			executed = true
		}
	})
	return ok && executed
}

// Events returns helpers for subscribing to event streams.
func (api *API[S]) Events() *Events[S] {
	return &Events[S]{api: api}
}

// Events exposes registration helpers for the event streams of the server.
// Every registration is attributed to the feature that owns the API.
type Events[S any] struct {
	api *API[S]
}

// OnPlayer registers a player.Handler invoked for every player event. The
// returned function removes the handler.
func (e *Events[S]) OnPlayer(handler player.Handler) func() {
	return e.api.manager.events.addPlayer(e.api.Name(), handler)
}

// OnWorld registers a world.Handler invoked for every world the manager is
// attached to. The returned function removes the handler.
func (e *Events[S]) OnWorld(handler world.Handler) func() {
	return e.api.manager.events.addWorld(e.api.Name(), handler)
}

// OnJoin registers a function called when a player joins. The returned
// function removes it.
func (e *Events[S]) OnJoin(handler JoinHandler) func() {
	return e.api.manager.events.addJoin(e.api.Name(), handler)
}

// Clear removes every handler registered by the feature.
func (e *Events[S]) Clear() {
	e.api.manager.events.clear(e.api.Name())
}
