package island

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Store persists islands. Island returns ErrNoIsland if the owner has none.
type Store interface {
	Islands(ctx context.Context) ([]*Island, error)
	Island(ctx context.Context, owner uuid.UUID) (*Island, error)
	SaveIsland(ctx context.Context, isl *Island) error
	DeleteIsland(ctx context.Context, owner uuid.UUID) error
}

// Registry indexes every island by owner, member and slot. Islands are kept
// copy-on-write: readers get immutable snapshots and Update swaps in a
// modified copy once it has been persisted.
type Registry struct {
	store      Store
	grid       Grid
	log        *slog.Logger
	maxMembers int

	// wmu serialises writers so that copy-on-write updates never race.
	wmu sync.Mutex

	mu       sync.RWMutex
	byOwner  map[uuid.UUID]*Island
	byMember map[uuid.UUID]uuid.UUID
	bySlot   map[int]*Island

	loads singleflight.Group
}

// NewRegistry creates an empty Registry. maxMembers bounds the number of
// members besides the owner; 0 or lower means no members.
func NewRegistry(store Store, grid Grid, maxMembers int, log *slog.Logger) *Registry {
	return &Registry{
		store:      store,
		grid:       grid,
		log:        log.With("subsystem", "islands"),
		maxMembers: max(maxMembers, 0),
		byOwner:    make(map[uuid.UUID]*Island),
		byMember:   make(map[uuid.UUID]uuid.UUID),
		bySlot:     make(map[int]*Island),
	}
}

// Grid returns the grid islands are laid out on.
func (r *Registry) Grid() Grid { return r.grid }

// LoadAll replaces the index with every island in the store.
func (r *Registry) LoadAll(ctx context.Context) error {
	all, err := r.store.Islands(ctx)
	if err != nil {
		return fmt.Errorf("load islands: %w", err)
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.byOwner)
	clear(r.byMember)
	clear(r.bySlot)
	for _, isl := range all {
		if err := isl.validate(); err != nil {
			r.log.Error("Skipping invalid island.", "err", err)
			continue
		}
		if other, ok := r.bySlot[isl.Slot]; ok {
			r.log.Error("Skipping island in occupied slot.", "slot", isl.Slot, "owner", isl.Owner, "occupant", other.Owner)
			continue
		}
		r.indexLocked(isl)
	}
	r.log.Info("Islands loaded.", "count", len(r.byOwner))
	return nil
}

// Refresh re-reads the island of owner from the store. Concurrent refreshes of
// the same owner share a single read.
func (r *Registry) Refresh(ctx context.Context, owner uuid.UUID) (*Island, error) {
	v, err, _ := r.loads.Do(owner.String(), func() (any, error) {
		isl, err := r.store.Island(ctx, owner)
		if errors.Is(err, ErrNoIsland) {
			r.wmu.Lock()
			r.mu.Lock()
			if old, ok := r.byOwner[owner]; ok {
				r.unindexLocked(old)
			}
			r.mu.Unlock()
			r.wmu.Unlock()
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("refresh island of %s: %w", owner, err)
		}
		if err := isl.validate(); err != nil {
			return nil, err
		}
		r.wmu.Lock()
		defer r.wmu.Unlock()
		r.mu.Lock()
		defer r.mu.Unlock()
		if other, ok := r.bySlot[isl.Slot]; ok && other.Owner != owner {
			return nil, fmt.Errorf("refresh island of %s: slot %d taken by %s", owner, isl.Slot, other.Owner)
		}
		if old, ok := r.byOwner[owner]; ok {
			r.unindexLocked(old)
		}
		r.indexLocked(isl)
		return isl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Island), nil
}

// Create allocates the lowest free slot to a new island owned by owner and
// persists it.
func (r *Registry) Create(ctx context.Context, owner uuid.UUID, theme Theme) (*Island, error) {
	if owner == uuid.Nil {
		return nil, errors.New("create island: nil owner")
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.mu.RLock()
	_, taken := r.byMember[owner]
	slot := 0
	for r.bySlot[slot] != nil {
		slot++
	}
	r.mu.RUnlock()
	if taken {
		return nil, ErrHasIsland
	}

	isl := &Island{
		Owner:    owner,
		Slot:     slot,
		Theme:    theme,
		Home:     r.grid.Home(slot),
		Upgrades: make(map[Upgrade]int),
		Created:  time.Now(),
	}
	if err := r.store.SaveIsland(ctx, isl); err != nil {
		return nil, fmt.Errorf("create island: %w", err)
	}
	r.mu.Lock()
	r.indexLocked(isl)
	r.mu.Unlock()
	return isl, nil
}

// Island returns the island owned by owner.
func (r *Registry) Island(owner uuid.UUID) (*Island, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	isl, ok := r.byOwner[owner]
	return isl, ok
}

// IslandOf returns the island the player owns or is a member of.
func (r *Registry) IslandOf(player uuid.UUID) (*Island, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.byMember[player]
	if !ok {
		return nil, false
	}
	return r.byOwner[owner], true
}

// IslandAt returns the island whose box contains pos.
func (r *Registry) IslandAt(pos cube.Pos) (*Island, bool) {
	slot, ok := r.grid.SlotAt(pos)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	isl, ok := r.bySlot[slot]
	return isl, ok
}

// Islands returns a snapshot of every island ordered by slot.
func (r *Registry) Islands() []*Island {
	r.mu.RLock()
	all := make([]*Island, 0, len(r.byOwner))
	for _, isl := range r.byOwner {
		all = append(all, isl)
	}
	r.mu.RUnlock()
	slices.SortFunc(all, func(a, b *Island) int { return a.Slot - b.Slot })
	return all
}

// Len returns the number of islands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner)
}

// Update applies fn to a copy of the island of owner, persists the copy and
// makes it current. If fn or the store fails the island is left unchanged.
func (r *Registry) Update(ctx context.Context, owner uuid.UUID, fn func(isl *Island) error) (*Island, error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.updateLocked(ctx, owner, fn)
}

func (r *Registry) updateLocked(ctx context.Context, owner uuid.UUID, fn func(isl *Island) error) (*Island, error) {
	r.mu.RLock()
	cur, ok := r.byOwner[owner]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoIsland
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Owner, next.Slot = cur.Owner, cur.Slot
	if err := r.store.SaveIsland(ctx, next); err != nil {
		return nil, fmt.Errorf("save island of %s: %w", owner, err)
	}
	r.mu.Lock()
	r.unindexLocked(cur)
	r.indexLocked(next)
	r.mu.Unlock()
	return next, nil
}

// Delete removes the island of owner from the store and the index. Members
// are released.
func (r *Registry) Delete(ctx context.Context, owner uuid.UUID) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.mu.RLock()
	cur, ok := r.byOwner[owner]
	r.mu.RUnlock()
	if !ok {
		return ErrNoIsland
	}
	if err := r.store.DeleteIsland(ctx, owner); err != nil {
		return fmt.Errorf("delete island of %s: %w", owner, err)
	}
	r.mu.Lock()
	r.unindexLocked(cur)
	r.mu.Unlock()
	return nil
}

// AddMember adds member to the island of owner.
func (r *Registry) AddMember(ctx context.Context, owner, member uuid.UUID) (*Island, error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.mu.RLock()
	_, taken := r.byMember[member]
	r.mu.RUnlock()
	if taken {
		return nil, ErrHasIsland
	}
	return r.updateLocked(ctx, owner, func(isl *Island) error {
		if len(isl.Members) >= r.maxMembers {
			return ErrMemberLimit
		}
		isl.Members = append(isl.Members, member)
		return nil
	})
}

// RemoveMember removes member from the island of owner. The owner cannot be
// removed.
func (r *Registry) RemoveMember(ctx context.Context, owner, member uuid.UUID) (*Island, error) {
	return r.Update(ctx, owner, func(isl *Island) error {
		i := slices.Index(isl.Members, member)
		if i < 0 {
			return ErrNotMember
		}
		isl.Members = slices.Delete(isl.Members, i, i+1)
		return nil
	})
}

// Upgrade raises the tier of u on the island of owner by one, refusing to go
// past maxTier.
func (r *Registry) Upgrade(ctx context.Context, owner uuid.UUID, u Upgrade, maxTier int) (*Island, error) {
	return r.Update(ctx, owner, func(isl *Island) error {
		if isl.Upgrades[u] >= maxTier {
			return ErrMaxTier
		}
		isl.Upgrades[u]++
		return nil
	})
}

// Seed returns a stable seed for randomness tied to the island of owner.
func Seed(owner uuid.UUID) uint64 {
	return xxhash.Sum64(owner[:])
}

func (r *Registry) indexLocked(isl *Island) {
	r.byOwner[isl.Owner] = isl
	r.bySlot[isl.Slot] = isl
	r.byMember[isl.Owner] = isl.Owner
	for _, m := range isl.Members {
		r.byMember[m] = isl.Owner
	}
}

func (r *Registry) unindexLocked(isl *Island) {
	delete(r.byOwner, isl.Owner)
	if r.bySlot[isl.Slot] == isl {
		delete(r.bySlot, isl.Slot)
	}
	for _, m := range append([]uuid.UUID{isl.Owner}, isl.Members...) {
		if r.byMember[m] == isl.Owner {
			delete(r.byMember, m)
		}
	}
}
