package plugin

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PlayerSummary captures an online player at the moment they joined. It lets
// features reason about who is online without opening transactions on the
// player entity.
type PlayerSummary struct {
	UUID   uuid.UUID
	Name   string
	Joined time.Time
}

// Presence tracks the players that are currently online.
type Presence struct {
	mu      sync.RWMutex
	players map[uuid.UUID]PlayerSummary
}

func newPresence() *Presence {
	return &Presence{players: make(map[uuid.UUID]PlayerSummary)}
}

func (p *Presence) add(s PlayerSummary) {
	p.mu.Lock()
	p.players[s.UUID] = s
	p.mu.Unlock()
}

func (p *Presence) remove(id uuid.UUID) {
	p.mu.Lock()
	delete(p.players, id)
	p.mu.Unlock()
}

// Online reports if the player with the UUID passed is online.
func (p *Presence) Online(id uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.players[id]
	return ok
}

// Summary returns the summary of an online player.
func (p *Presence) Summary(id uuid.UUID) (PlayerSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.players[id]
	return s, ok
}

// Summaries returns all online players ordered by join time.
func (p *Presence) Summaries() []PlayerSummary {
	p.mu.RLock()
	out := make([]PlayerSummary, 0, len(p.players))
	for _, s := range p.players {
		out = append(out, s)
	}
	p.mu.RUnlock()
	slices.SortFunc(out, func(a, b PlayerSummary) int {
		return a.Joined.Compare(b.Joined)
	})
	return out
}

// Len returns the number of online players.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.players)
}
