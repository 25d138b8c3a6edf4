package challenge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dm-vev/hellblock/scheduler"
	"github.com/google/uuid"
)

type memStore struct {
	mu    sync.Mutex
	data  map[uuid.UUID]map[string]Record
	loads atomic.Int32
	saves atomic.Int32
	err   error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[uuid.UUID]map[string]Record)}
}

func (m *memStore) Progress(_ context.Context, player uuid.UUID) (map[string]Record, error) {
	m.loads.Add(1)
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return maps.Clone(m.data[player]), nil
}

func (m *memStore) SaveProgress(_ context.Context, player uuid.UUID, records map[string]Record) error {
	m.saves.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[player] = maps.Clone(records)
	return nil
}

func (m *memStore) get(player uuid.UUID, id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[player][id]
	return r, ok
}

const testCatalogue = `
challenges:
  - id: gen
    trigger: generate
    amount: 3
  - id: quartz
    trigger: mine
    subject: minecraft:quartz_ore
    amount: 2
    rewards:
      - item: minecraft:gold_ingot
  - id: rack
    trigger: mine
    subject: minecraft:netherrack
    amount: 4
    repeatable: true
`

func newTestTracker(t *testing.T, store Store, delay time.Duration) *Tracker {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := scheduler.New(log, scheduler.Config{Workers: 2})
	t.Cleanup(func() { _ = s.Close() })
	cat, err := ParseCatalogue([]byte(testCatalogue))
	if err != nil {
		t.Fatalf("ParseCatalogue() error = %v", err)
	}
	return NewTracker(cat, store, s, delay, log)
}

func TestDefaultCatalogueParses(t *testing.T) {
	c := DefaultCatalogue()
	if len(c.Definitions()) == 0 {
		t.Fatalf("default catalogue is empty")
	}
	if _, ok := c.Definition("wither_bane"); !ok {
		t.Fatalf("default catalogue misses wither_bane")
	}
}

func TestParseCatalogueRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no id":     "challenges:\n  - trigger: mine\n    amount: 1\n",
		"trigger":   "challenges:\n  - id: a\n    trigger: fly\n    amount: 1\n",
		"amount":    "challenges:\n  - id: a\n    trigger: mine\n    amount: 0\n",
		"duplicate": "challenges:\n  - id: a\n    trigger: mine\n    amount: 1\n  - id: a\n    trigger: kill\n    amount: 1\n",
		"yaml":      "challenges: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalogue([]byte(doc)); err == nil {
				t.Fatalf("ParseCatalogue accepted %s", name)
			}
		})
	}
}

func TestDefinitionMatches(t *testing.T) {
	d := Definition{Trigger: TriggerKill, Subject: "blaze"}
	if !d.Matches(TriggerKill, "Blaze") {
		t.Fatalf("subject match is case sensitive")
	}
	if d.Matches(TriggerKill, "ghast") || d.Matches(TriggerMine, "blaze") {
		t.Fatalf("definition matched the wrong trigger or subject")
	}
	if !(Definition{Trigger: TriggerKill}).Matches(TriggerKill, "ghast") {
		t.Fatalf("empty subject did not match")
	}
}

func TestAdvanceCompletesOnce(t *testing.T) {
	tr := newTestTracker(t, newMemStore(), time.Hour)
	p := uuid.New()
	if err := tr.Load(context.Background(), p); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := tr.Advance(p, TriggerGenerate, "minecraft:netherrack", 2); len(got) != 0 {
		t.Fatalf("completed early: %v", got)
	}
	got := tr.Advance(p, TriggerGenerate, "minecraft:netherrack", 5)
	if len(got) != 1 || got[0].Definition.ID != "gen" || got[0].Times != 1 {
		t.Fatalf("Advance() = %+v, want one gen completion", got)
	}
	if got := tr.Advance(p, TriggerGenerate, "", 10); len(got) != 0 {
		t.Fatalf("completed challenge completed again: %v", got)
	}

	status, err := tr.Progress(p)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if !status[0].Done() || status[0].Record.Count != 3 {
		t.Fatalf("gen status = %+v", status[0])
	}
}

func TestAdvanceRepeatable(t *testing.T) {
	tr := newTestTracker(t, newMemStore(), time.Hour)
	p := uuid.New()
	_ = tr.Load(context.Background(), p)

	got := tr.Advance(p, TriggerMine, "minecraft:netherrack", 9)
	if len(got) != 1 || got[0].Times != 2 {
		t.Fatalf("Advance() = %+v, want rack completed twice", got)
	}
	status, _ := tr.Progress(p)
	rack := status[2]
	if rack.Record.Count != 1 || rack.Record.Completions != 2 || rack.Done() {
		t.Fatalf("rack status = %+v", rack)
	}
	if got := tr.Advance(p, TriggerMine, "minecraft:quartz_ore", 1); len(got) != 0 {
		t.Fatalf("subject filter ignored: %v", got)
	}
}

func TestAdvanceIgnoresUnloadedPlayers(t *testing.T) {
	tr := newTestTracker(t, newMemStore(), time.Hour)
	if got := tr.Advance(uuid.New(), TriggerGenerate, "", 100); got != nil {
		t.Fatalf("Advance for unloaded player = %v", got)
	}
	if _, err := tr.Progress(uuid.New()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Progress() error = %v, want ErrNotLoaded", err)
	}
}

func TestLoadIsCoalesced(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(t, store, time.Hour)
	p := uuid.New()
	store.data[p] = map[string]Record{"gen": {Count: 2}}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Load(context.Background(), p); err != nil {
				t.Errorf("Load() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if n := store.loads.Load(); n != 1 {
		t.Fatalf("store read %d times for concurrent loads", n)
	}
	if got := tr.Advance(p, TriggerGenerate, "", 1); len(got) != 1 {
		t.Fatalf("stored progress not restored: %v", got)
	}
}

func TestLoadError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("offline")
	tr := newTestTracker(t, store, time.Hour)
	if err := tr.Load(context.Background(), uuid.New()); !errors.Is(err, store.err) {
		t.Fatalf("Load() error = %v, want %v", err, store.err)
	}
}

func TestUnloadSavesAsync(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(t, store, time.Hour)
	p := uuid.New()
	_ = tr.Load(context.Background(), p)
	tr.Advance(p, TriggerGenerate, "", 1)
	tr.Unload(p)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if rec, ok := store.get(p, "gen"); ok && rec.Count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("progress was not saved on unload")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.Loaded(p) {
		t.Fatalf("player still loaded after Unload")
	}
}

func TestDelayedSave(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(t, store, 20*time.Millisecond)
	p := uuid.New()
	_ = tr.Load(context.Background(), p)
	tr.Advance(p, TriggerGenerate, "", 1)
	tr.Advance(p, TriggerGenerate, "", 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if rec, ok := store.get(p, "gen"); ok && rec.Count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delayed save did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := store.saves.Load(); n != 1 {
		t.Fatalf("saved %d times, want 1", n)
	}
}

func TestFlushAndReset(t *testing.T) {
	store := newMemStore()
	tr := newTestTracker(t, store, time.Hour)
	p := uuid.New()
	_ = tr.Load(context.Background(), p)
	tr.Advance(p, TriggerGenerate, "", 2)
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if rec, _ := store.get(p, "gen"); rec.Count != 2 {
		t.Fatalf("flushed count = %d", rec.Count)
	}
	tr.Reset(p)
	status, _ := tr.Progress(p)
	if status[0].Record.Count != 0 {
		t.Fatalf("Reset kept progress: %+v", status[0])
	}
}

// gatedStore blocks SaveProgress or Progress until the matching gate is
// closed.
type gatedStore struct {
	*memStore
	saveGate chan struct{}
	loadGate chan struct{}
	reading  chan struct{}
}

func (g *gatedStore) SaveProgress(ctx context.Context, player uuid.UUID, records map[string]Record) error {
	if g.saveGate != nil {
		<-g.saveGate
	}
	return g.memStore.SaveProgress(ctx, player, records)
}

func (g *gatedStore) Progress(ctx context.Context, player uuid.UUID) (map[string]Record, error) {
	if g.loadGate != nil {
		close(g.reading)
		<-g.loadGate
	}
	return g.memStore.Progress(ctx, player)
}

func TestRejoinBeforeSaveKeepsProgress(t *testing.T) {
	store := &gatedStore{memStore: newMemStore(), saveGate: make(chan struct{})}
	tr := newTestTracker(t, store, time.Hour)
	p := uuid.New()
	store.data[p] = map[string]Record{"gen": {Count: 1}}

	if err := tr.Load(context.Background(), p); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tr.Advance(p, TriggerGenerate, "", 1)
	tr.Unload(p)
	// The save is still blocked, so the store holds the old count.
	if err := tr.Load(context.Background(), p); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	status, err := tr.Progress(p)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if status[0].Record.Count != 2 {
		t.Fatalf("count after quick rejoin = %d, want 2", status[0].Record.Count)
	}
	if n := store.loads.Load(); n != 1 {
		t.Fatalf("store read %d times, want 1", n)
	}

	close(store.saveGate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if rec, _ := store.get(p, "gen"); rec.Count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unload save never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadDroppedAfterUnload(t *testing.T) {
	store := &gatedStore{memStore: newMemStore(), loadGate: make(chan struct{}), reading: make(chan struct{})}
	tr := newTestTracker(t, store, time.Hour)
	p := uuid.New()

	done := make(chan error, 1)
	go func() { done <- tr.Load(context.Background(), p) }()
	<-store.reading
	tr.Unload(p)
	close(store.loadGate)
	if err := <-done; err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tr.Loaded(p) {
		t.Fatalf("player loaded after leaving during the load")
	}
}

func TestFlushWritesPendingSaves(t *testing.T) {
	store := newMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := scheduler.New(log, scheduler.Config{Workers: 1})
	cat, err := ParseCatalogue([]byte(testCatalogue))
	if err != nil {
		t.Fatalf("ParseCatalogue() error = %v", err)
	}
	tr := NewTracker(cat, store, s, time.Hour, log)
	p := uuid.New()
	_ = tr.Load(context.Background(), p)
	tr.Advance(p, TriggerGenerate, "", 2)
	// Closing the scheduler first drops the async save of Unload.
	_ = s.Close()
	tr.Unload(p)

	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if rec, _ := store.get(p, "gen"); rec.Count != 2 {
		t.Fatalf("flushed count = %d, want 2", rec.Count)
	}
}
