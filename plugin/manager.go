package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
)

type featureInstance[S any] struct {
	name    string
	version string
	factory Factory[S]
	feature Feature
	api     *API[S]
	cancel  context.CancelFunc
}

func (fi featureInstance[S]) info() Info {
	var data string
	if fi.api != nil {
		data = fi.api.DataDirectory()
	}
	return Info{Name: fi.name, Version: fi.version, Data: data}
}

// Manager owns the lifecycle of every feature: it constructs them through
// their factories, fans host events out to the handlers they register and
// isolates panics so that a failing feature is disabled instead of taking
// the server down.
type Manager[S any] struct {
	host       Host
	cfg        Config
	services   S
	log        *slog.Logger
	runtimeLog *slog.Logger

	mu       sync.RWMutex
	features []featureInstance[S]
	events   *eventHub[S]
	presence *Presence
}

// NewManager constructs a Manager using the host, configuration and shared
// services passed.
func NewManager[S any](host Host, cfg Config, services S) *Manager[S] {
	logger := host.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager[S]{
		host:       host,
		cfg:        cfg,
		services:   services,
		log:        logger,
		runtimeLog: logger.With("subsystem", "plugin.runtime"),
		presence:   newPresence(),
	}
	m.events = newEventHub(m, logger)
	return m
}

// DataRoot returns the root directory used for feature data storage.
func (m *Manager[S]) DataRoot() string {
	if m.cfg.DataDirectory == "" {
		return "data"
	}
	return filepath.Clean(m.cfg.DataDirectory)
}

// Presence returns the registry of online players.
func (m *Manager[S]) Presence() *Presence {
	return m.presence
}

// Infos returns metadata for all enabled features in the order they were
// enabled.
func (m *Manager[S]) Infos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, len(m.features))
	for i, f := range m.features {
		infos[i] = f.info()
	}
	return infos
}

// Feature returns an enabled feature by its case-insensitive name.
func (m *Manager[S]) Feature(name string) (Feature, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.features {
		if strings.EqualFold(f.name, name) {
			return f.feature, true
		}
	}
	return nil, false
}

// Enable constructs a feature with the factory passed and enables it under
// name. If the feature reports a different name, the reported name is used.
func (m *Manager[S]) Enable(name string, factory Factory[S]) (info Info, err error) {
	if factory == nil {
		return Info{}, ErrNilFactory
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "feature"
	}
	if _, ok := m.Feature(name); ok {
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}

	dataDir := m.featureDataDirectory(name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create feature data directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	api := newAPI(m, name, ctx, dataDir)
	defer func() {
		if err != nil {
			cancel()
			m.events.clear(api.Name())
		}
	}()

	inst, err := m.construct(api, factory)
	if err != nil {
		return Info{}, fmt.Errorf("initialise feature %s: %w", name, err)
	}
	if inst == nil {
		return Info{}, fmt.Errorf("initialise feature %s: factory returned nil", name)
	}

	if reported := strings.TrimSpace(inst.Name()); reported != "" && reported != name {
		if _, ok := m.Feature(reported); ok && !strings.EqualFold(reported, name) {
			if err := inst.Close(); err != nil {
				m.log.Error("Close conflicting feature instance.", "error", err, "name", reported)
			}
			return Info{}, fmt.Errorf("%w: %s", ErrNameConflict, reported)
		}
		m.events.rename(name, reported)
		api.setName(reported)
		if target := m.featureDataDirectory(reported); target != api.dataDir {
			if err := m.migrateDataDirectory(api.dataDir, target); err != nil {
				m.runtimeLog.Error("Migrate feature data directory.", "feature", reported, "error", err)
			} else {
				api.dataDir = target
			}
		}
		name = reported
	}

	version := ""
	if v, ok := inst.(Versioned); ok {
		version = v.Version()
	}
	entry := featureInstance[S]{name: name, version: version, factory: factory, feature: inst, api: api, cancel: cancel}

	m.mu.Lock()
	for _, existing := range m.features {
		if strings.EqualFold(existing.name, entry.name) {
			m.mu.Unlock()
			if err := entry.feature.Close(); err != nil {
				m.log.Error("Close conflicting feature instance.", "error", err, "name", entry.name)
			}
			return Info{}, fmt.Errorf("%w: %s", ErrNameConflict, entry.name)
		}
	}
	m.features = append(m.features, entry)
	m.mu.Unlock()

	attrs := []any{"name", entry.name}
	if entry.version != "" {
		attrs = append(attrs, "version", entry.version)
	}
	m.log.Info("Feature enabled.", attrs...)
	return entry.info(), nil
}

// construct runs the factory, converting a panic into an error.
func (m *Manager[S]) construct(api *API[S], factory Factory[S]) (f Feature, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	return factory(api)
}

// Disable disables a feature by its case-insensitive name.
func (m *Manager[S]) Disable(name string) (Info, error) {
	entry, ok := m.take(name)
	if !ok {
		return Info{}, ErrNotFound
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	m.events.clear(entry.name)
	if err := entry.feature.Close(); err != nil {
		return entry.info(), fmt.Errorf("close feature: %w", err)
	}
	m.log.Info("Feature disabled.", "name", entry.name)
	return entry.info(), nil
}

func (m *Manager[S]) take(name string) (featureInstance[S], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.features {
		if strings.EqualFold(f.name, name) {
			m.features = slices.Delete(m.features, i, i+1)
			return f, true
		}
	}
	return featureInstance[S]{}, false
}

// Reload disables a feature and constructs it again with the factory it was
// originally enabled with.
func (m *Manager[S]) Reload(name string) (Info, error) {
	m.mu.RLock()
	var factory Factory[S]
	for _, f := range m.features {
		if strings.EqualFold(f.name, name) {
			factory, name = f.factory, f.name
			break
		}
	}
	m.mu.RUnlock()
	if factory == nil {
		return Info{}, ErrNotFound
	}

	if _, err := m.Disable(name); err != nil {
		m.runtimeLog.Warn("Feature did not close cleanly before reload.", "name", name, "error", err)
	}
	reloaded, err := m.Enable(name, factory)
	if err != nil {
		return Info{}, err
	}
	m.log.Info("Feature reloaded.", "name", reloaded.Name)
	return reloaded, nil
}

// DisableAll disables every enabled feature in reverse enable order and
// returns metadata for each in the order they were disabled.
func (m *Manager[S]) DisableAll() ([]Info, error) {
	m.mu.RLock()
	names := make([]string, len(m.features))
	for i, f := range m.features {
		names[i] = f.name
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(names))
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		info, err := m.Disable(names[i])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
		infos = append(infos, info)
	}
	return infos, errors.Join(errs...)
}

// Shutdown disables all features in reverse enable order, logging failures.
func (m *Manager[S]) Shutdown() {
	if _, err := m.DisableAll(); err != nil {
		m.log.Error("Disable features.", "error", err)
	}
}

// Join records the player as online and runs the join handlers of every
// feature. It must be called on the player's world goroutine, typically from
// the server's accept loop.
func (m *Manager[S]) Join(p *player.Player) {
	m.presence.add(PlayerSummary{UUID: p.UUID(), Name: p.Name(), Joined: time.Now()})
	m.events.fireJoin(p)
}

// PlayerHandler returns the handler to attach to players with Player.Handle.
func (m *Manager[S]) PlayerHandler() player.Handler {
	return &playerHandlerChain[S]{hub: m.events}
}

// WorldHandler returns the handler to attach to worlds with World.Handle.
func (m *Manager[S]) WorldHandler() world.Handler {
	return &worldHandlerChain[S]{hub: m.events}
}

func (m *Manager[S]) featureDataDirectory(name string) string {
	return filepath.Join(m.DataRoot(), sanitizeFeatureDirectory(name))
}

func (m *Manager[S]) migrateDataDirectory(from, to string) error {
	if from == to {
		return nil
	}
	if to == "" {
		return fmt.Errorf("empty target data directory")
	}
	if from == "" {
		return os.MkdirAll(to, 0o755)
	}
	info, err := os.Stat(from)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(to, 0o755)
		}
		return fmt.Errorf("stat source data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source data directory is not a directory")
	}
	if _, err := os.Stat(to); err == nil {
		// The target already holds data from an earlier run; keep it.
		return os.Remove(from)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("ensure target parent: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename data directory: %w", err)
	}
	return nil
}

func (m *Manager[S]) handleFeaturePanic(name string, reason any) {
	if name == "" {
		name = "feature"
	}
	stack := debug.Stack()
	m.events.clear(name)
	m.runtimeLog.Error("Feature panic.", "feature", name, "panic", reason, "stack", string(stack))
	go func() {
		info, err := m.Disable(name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.runtimeLog.Error("Disable panicked feature.", "feature", name, "error", err)
			}
			return
		}
		m.runtimeLog.Warn("Feature disabled after panic.", "name", info.Name)
	}()
}

func sanitizeFeatureDirectory(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "feature"
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, strings.ToLower(trimmed))
	sanitized = strings.Trim(sanitized, "-_.")
	if sanitized == "" {
		return "feature"
	}
	return sanitized
}
