package audit

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func newWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := Open(t.TempDir(), "audit", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return w
}

func TestWriterRoundTrip(t *testing.T) {
	w := newWriter(t)
	at := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	player := uuid.New()
	w.Log(Event{Kind: KindBarter, Player: player, Detail: map[string]any{"item": "minecraft:quartz"}})
	w.Log(Event{Kind: KindGenerate, Player: player})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events := readEvents(t, w.Path(at))
	if len(events) != 2 {
		t.Fatalf("read %d events, want 2", len(events))
	}
	if events[0].Kind != KindBarter || events[0].Player != player || events[0].Detail["item"] != "minecraft:quartz" {
		t.Fatalf("first event = %+v", events[0])
	}
	if !events[1].Time.Equal(at) {
		t.Fatalf("event time = %v, want %v", events[1].Time, at)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	w := newWriter(t)
	first := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	second := first.Add(2 * time.Minute)

	w.Log(Event{Time: first, Kind: KindBoss})
	w.Log(Event{Time: second, Kind: KindBoss})
	w.Log(Event{Time: second, Kind: KindPortal})
	_ = w.Close()

	if got := readEvents(t, w.Path(first)); len(got) != 1 {
		t.Fatalf("first hour has %d events, want 1", len(got))
	}
	if got := readEvents(t, w.Path(second)); len(got) != 2 {
		t.Fatalf("second hour has %d events, want 2", len(got))
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for range 2 {
		w, err := Open(dir, "audit", log)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		w.Log(Event{Time: at, Kind: KindIsland})
		_ = w.Close()
	}
	w, _ := Open(dir, "audit", log)
	if got := readEvents(t, w.Path(at)); len(got) != 2 {
		t.Fatalf("read %d events across reopen, want 2", len(got))
	}
}

func TestWriterConcurrentAndClosed(t *testing.T) {
	w := newWriter(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				w.Log(Event{Time: at, Kind: KindGenerate})
			}
		}()
	}
	wg.Wait()
	_ = w.Close()
	w.Log(Event{Time: at, Kind: KindGenerate})

	if got := readEvents(t, w.Path(at)); len(got) != 200 {
		t.Fatalf("read %d events, want 200", len(got))
	}
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	l.Log(Event{Kind: KindBoss})
	if err := l.Close(); err != nil {
		t.Fatalf("Nop.Close() error = %v", err)
	}
}
