package island

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a Store that keeps islands in memory. It backs the "memory"
// storage provider and tests.
type MemoryStore struct {
	mu      sync.Mutex
	islands map[uuid.UUID]*Island
	// Err, if set, is returned by every write.
	Err error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{islands: make(map[uuid.UUID]*Island)}
}

func (m *MemoryStore) Islands(context.Context) ([]*Island, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Island, 0, len(m.islands))
	for _, isl := range m.islands {
		out = append(out, isl.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Island(_ context.Context, owner uuid.UUID) (*Island, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	isl, ok := m.islands[owner]
	if !ok {
		return nil, ErrNoIsland
	}
	return isl.Clone(), nil
}

func (m *MemoryStore) SaveIsland(_ context.Context, isl *Island) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.islands[isl.Owner] = isl.Clone()
	return nil
}

func (m *MemoryStore) DeleteIsland(_ context.Context, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.islands, owner)
	return nil
}

// SetErr sets the error returned by writes.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
