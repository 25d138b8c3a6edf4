package boss

import (
	"sync"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/dm-vev/hellblock/mob"
	"github.com/google/uuid"
)

// Phase thresholds as a fraction of max health.
const (
	phaseOne = 0.66
	phaseTwo = 0.33
)

// PhaseOf returns the phase of a boss at health: 0 above 66% of max, 1 down
// to 33% and 2 below.
func PhaseOf(health, max float64) int {
	if max <= 0 {
		return 0
	}
	switch r := health / max; {
	case r <= phaseTwo:
		return 2
	case r <= phaseOne:
		return 1
	default:
		return 0
	}
}

// Stats describes a living boss.
type Stats struct {
	Kind      mob.Kind
	Handle    *world.EntityHandle
	Island    uuid.UUID
	MaxHealth float64
	Health    float64
	Phase     int
	Minions   int
	// Viewers are the players currently shown the boss bar.
	Viewers map[uuid.UUID]struct{}
}

// registry holds the living bosses and the minions they summoned.
type registry struct {
	mu      sync.Mutex
	bosses  map[uuid.UUID]*Stats
	minions map[uuid.UUID]struct{}
}

func newRegistry() *registry {
	return &registry{bosses: make(map[uuid.UUID]*Stats), minions: make(map[uuid.UUID]struct{})}
}

func (r *registry) add(id uuid.UUID, st *Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Viewers == nil {
		st.Viewers = make(map[uuid.UUID]struct{})
	}
	st.Health = st.MaxHealth
	r.bosses[id] = st
}

// hurt records the health of a boss and reports how many phases it advanced.
func (r *registry) hurt(id uuid.UUID, health float64) (Stats, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.bosses[id]
	if !ok {
		return Stats{}, 0, false
	}
	st.Health = health
	phase := PhaseOf(health, st.MaxHealth)
	advanced := max(phase-st.Phase, 0)
	st.Phase = max(st.Phase, phase)
	return *st, advanced, true
}

func (r *registry) summoned(id uuid.UUID, minions []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.bosses[id]; ok {
		st.Minions += len(minions)
	}
	for _, m := range minions {
		r.minions[m] = struct{}{}
	}
}

// minion reports whether id is a minion and forgets it.
func (r *registry) minion(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.minions[id]
	delete(r.minions, id)
	return ok
}

func (r *registry) remove(id uuid.UUID) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.bosses[id]
	if !ok {
		return Stats{}, false
	}
	delete(r.bosses, id)
	return *st, true
}

// setViewers replaces the viewers of a boss and returns the previous ones.
func (r *registry) setViewers(id uuid.UUID, viewers map[uuid.UUID]struct{}) map[uuid.UUID]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.bosses[id]
	if !ok {
		return nil
	}
	prev := st.Viewers
	st.Viewers = viewers
	return prev
}

func (r *registry) all() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.bosses))
	for _, st := range r.bosses {
		out = append(out, *st)
	}
	return out
}
