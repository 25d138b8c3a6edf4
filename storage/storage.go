// Package storage opens the island and challenge store selected in the
// configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"sync"

	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/config"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/storage/leveldb"
	"github.com/dm-vev/hellblock/storage/sqlstore"
	"github.com/google/uuid"
)

// ErrNotFound is returned by providers when a record does not exist.
var ErrNotFound = island.ErrNoIsland

// Provider persists both islands and challenge progress.
type Provider interface {
	island.Store
	challenge.Store
	io.Closer
}

var (
	_ Provider = (*leveldb.DB)(nil)
	_ Provider = (*sqlstore.Store)(nil)
	_ Provider = (*Memory)(nil)
)

// Open opens the provider selected by cfg. Relative folders are resolved
// against root.
func Open(ctx context.Context, cfg config.Storage, root string) (Provider, error) {
	folder := cfg.Folder
	if folder != "" && !filepath.IsAbs(folder) {
		folder = filepath.Join(root, folder)
	}
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderLevelDB:
		p, err = leveldb.Open(folder)
	case config.ProviderSQLite:
		p, err = sqlstore.OpenSQLite(ctx, folder)
	case config.ProviderPostgres:
		p, err = sqlstore.OpenPostgres(ctx, cfg.DSN)
	case config.ProviderMemory:
		p = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Memory is a Provider that keeps everything in memory.
type Memory struct {
	*island.MemoryStore

	mu       sync.Mutex
	progress map[uuid.UUID]map[string]challenge.Record
}

// NewMemory returns an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{MemoryStore: island.NewMemoryStore(), progress: make(map[uuid.UUID]map[string]challenge.Record)}
}

func (m *Memory) Progress(_ context.Context, player uuid.UUID) (map[string]challenge.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := maps.Clone(m.progress[player])
	if out == nil {
		out = make(map[string]challenge.Record)
	}
	return out, nil
}

func (m *Memory) SaveProgress(_ context.Context, player uuid.UUID, records map[string]challenge.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[player] = maps.Clone(records)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
