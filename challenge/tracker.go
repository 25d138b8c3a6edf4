package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dm-vev/hellblock/scheduler"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Record is the stored progress of a player on one challenge.
type Record struct {
	Count       int
	Completions int
}

// Store persists challenge progress. Progress returns an empty map for
// players without progress.
type Store interface {
	Progress(ctx context.Context, player uuid.UUID) (map[string]Record, error)
	SaveProgress(ctx context.Context, player uuid.UUID, records map[string]Record) error
}

// Completion is returned by Advance for every challenge a step completed.
type Completion struct {
	Player     uuid.UUID
	Definition Definition
	// Times is the number of completions the step caused. It is only above 1
	// for repeatable challenges advanced by a large step.
	Times int
}

// Status is the progress of a player on a challenge, for display.
type Status struct {
	Definition Definition
	Record     Record
}

// Done reports whether the challenge can no longer progress.
func (s Status) Done() bool {
	return !s.Definition.Repeatable && s.Record.Completions > 0
}

// ErrNotLoaded is returned for players whose progress is not loaded.
var ErrNotLoaded = errors.New("progress not loaded")

type playerState struct {
	records map[string]Record
	// save is the pending delayed save, if any.
	save *scheduler.Task
}

// pendingSave is a copy of progress handed to the store but not yet written.
type pendingSave struct {
	records map[string]Record
}

// Tracker keeps the progress of online players in memory and persists it
// asynchronously.
type Tracker struct {
	cat       *Catalogue
	store     Store
	s         *scheduler.Scheduler
	log       *slog.Logger
	saveDelay time.Duration

	mu      sync.Mutex
	players map[uuid.UUID]*playerState
	// unsaved holds the newest progress of a player until the store has it.
	// Loads read it instead of the store so a quick rejoin sees its own
	// progress.
	unsaved map[uuid.UUID]*pendingSave
	// loading maps players with a load in flight to the generation of that
	// load. Unload drops the entry, which makes the load discard its result.
	loading map[uuid.UUID]uint64
	gen     uint64

	loads singleflight.Group
	// writes orders the store writes of a player.
	writes [16]sync.Mutex
}

// NewTracker creates a Tracker. Progress changes are saved saveDelay after
// the first unsaved change.
func NewTracker(cat *Catalogue, store Store, s *scheduler.Scheduler, saveDelay time.Duration, log *slog.Logger) *Tracker {
	if saveDelay <= 0 {
		saveDelay = 30 * time.Second
	}
	return &Tracker{
		cat:       cat,
		store:     store,
		s:         s,
		log:       log.With("subsystem", "challenges"),
		saveDelay: saveDelay,
		players:   make(map[uuid.UUID]*playerState),
		unsaved:   make(map[uuid.UUID]*pendingSave),
		loading:   make(map[uuid.UUID]uint64),
	}
}

// Catalogue returns the catalogue the tracker counts progress for.
func (t *Tracker) Catalogue() *Catalogue { return t.cat }

// Load reads the progress of player from the store. Concurrent loads of the
// same player share one read, and loading an already loaded player is a
// no-op. A load that is still reading when the player is unloaded discards
// what it read.
func (t *Tracker) Load(ctx context.Context, player uuid.UUID) error {
	t.mu.Lock()
	if _, ok := t.players[player]; ok {
		t.mu.Unlock()
		return nil
	}
	gen, ok := t.loading[player]
	if !ok {
		t.gen++
		gen = t.gen
		t.loading[player] = gen
	}
	t.mu.Unlock()

	_, err, _ := t.loads.Do(fmt.Sprintf("%s/%d", player, gen), func() (any, error) {
		t.mu.Lock()
		_, loaded := t.players[player]
		pending, ok := t.unsaved[player]
		t.mu.Unlock()
		if loaded {
			return nil, nil
		}

		var records map[string]Record
		if ok {
			records = maps.Clone(pending.records)
		} else {
			var err error
			if records, err = t.store.Progress(ctx, player); err != nil {
				t.mu.Lock()
				if t.loading[player] == gen {
					delete(t.loading, player)
				}
				t.mu.Unlock()
				return nil, fmt.Errorf("load progress of %s: %w", player, err)
			}
		}
		if records == nil {
			records = make(map[string]Record)
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.loading[player]; !ok || cur != gen {
			t.log.Debug("Dropped progress of player who left while loading.", "player", player)
			return nil, nil
		}
		delete(t.loading, player)
		if _, ok := t.players[player]; !ok {
			t.players[player] = &playerState{records: records}
		}
		return nil, nil
	})
	return err
}

// Loaded reports whether the progress of player is in memory.
func (t *Tracker) Loaded(player uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.players[player]
	return ok
}

// Unload drops the progress of player from memory and saves it on the async
// pool. Loads of player still in flight are abandoned.
func (t *Tracker) Unload(player uuid.UUID) {
	t.mu.Lock()
	delete(t.loading, player)
	st, ok := t.players[player]
	if ok {
		delete(t.players, player)
		if st.save != nil {
			st.save.Cancel()
		}
		t.queueSaveLocked(player, st.records)
	}
	t.mu.Unlock()
}

// queueSaveLocked records a copy of records as the newest progress of player
// and writes it on the async pool.
func (t *Tracker) queueSaveLocked(player uuid.UUID, records map[string]Record) {
	t.unsaved[player] = &pendingSave{records: maps.Clone(records)}
	t.s.Async(func(ctx context.Context) {
		if err := t.persist(ctx, player); err != nil {
			t.log.Error("Failed to save challenge progress.", "player", player, "err", err)
		}
	})
}

// persist writes the newest unsaved progress of player. Writes of one
// player never overlap, so an older copy cannot overwrite a newer one.
func (t *Tracker) persist(ctx context.Context, player uuid.UUID) error {
	w := &t.writes[int(player[0])%len(t.writes)]
	w.Lock()
	defer w.Unlock()

	t.mu.Lock()
	p, ok := t.unsaved[player]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := t.store.SaveProgress(ctx, player, p.records); err != nil {
		return fmt.Errorf("save progress of %s: %w", player, err)
	}
	t.mu.Lock()
	if t.unsaved[player] == p {
		delete(t.unsaved, player)
	}
	t.mu.Unlock()
	return nil
}

// Flush saves the progress of every loaded player and every save still
// pending. It is called on shutdown.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	for id, st := range t.players {
		if st.save != nil {
			st.save.Cancel()
			st.save = nil
		}
		t.unsaved[id] = &pendingSave{records: maps.Clone(st.records)}
	}
	ids := slices.Collect(maps.Keys(t.unsaved))
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.persist(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Advance counts n steps of trigger on subject for player and returns the
// completions they caused. Non-repeatable challenges complete once and then
// stop counting. Repeatable challenges reset their count on completion.
func (t *Tracker) Advance(player uuid.UUID, trigger Trigger, subject string, n int) []Completion {
	if n <= 0 {
		return nil
	}
	defs := t.cat.matching(trigger, subject)
	if len(defs) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.players[player]
	if !ok {
		return nil
	}
	var done []Completion
	changed := false
	for _, d := range defs {
		rec := st.records[d.ID]
		if !d.Repeatable && rec.Completions > 0 {
			continue
		}
		changed = true
		rec.Count += n
		times := 0
		if d.Repeatable {
			times = rec.Count / d.Amount
			rec.Count %= d.Amount
		} else if rec.Count >= d.Amount {
			times, rec.Count = 1, d.Amount
		}
		rec.Completions += times
		st.records[d.ID] = rec
		if times > 0 {
			done = append(done, Completion{Player: player, Definition: d, Times: times})
		}
	}
	if changed {
		t.scheduleSaveLocked(player, st)
	}
	return done
}

func (t *Tracker) scheduleSaveLocked(player uuid.UUID, st *playerState) {
	if st.save != nil && !st.save.Cancelled() {
		return
	}
	st.save = t.s.After(t.saveDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur, ok := t.players[player]
		if !ok || cur != st {
			return
		}
		st.save = nil
		t.queueSaveLocked(player, st.records)
	})
}

// Progress returns the status of player on every challenge in catalogue
// order.
func (t *Tracker) Progress(player uuid.UUID) ([]Status, error) {
	t.mu.Lock()
	st, ok := t.players[player]
	var records map[string]Record
	if ok {
		records = maps.Clone(st.records)
	}
	t.mu.Unlock()
	if !ok {
		return nil, ErrNotLoaded
	}
	defs := t.cat.Definitions()
	out := make([]Status, 0, len(defs))
	for _, d := range defs {
		out = append(out, Status{Definition: d, Record: records[d.ID]})
	}
	return out, nil
}

// Reset clears the progress of player, for example after an island reset.
func (t *Tracker) Reset(player uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.players[player]
	if !ok {
		return
	}
	clear(st.records)
	t.scheduleSaveLocked(player, st)
}
