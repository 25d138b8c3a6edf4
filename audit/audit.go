// Package audit records gameplay events such as generated blocks, barters and
// boss kills as zstd compressed JSON lines, rotated every hour.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Event kinds written by hellblock features.
const (
	KindIsland    = "island"
	KindGenerate  = "generate"
	KindBarter    = "barter"
	KindBoss      = "boss"
	KindUpgrade   = "upgrade"
	KindPortal    = "portal"
	KindChallenge = "challenge"
)

// Event is a single audit record.
type Event struct {
	Time   time.Time      `json:"time"`
	Kind   string         `json:"kind"`
	Player uuid.UUID      `json:"player"`
	Island uuid.UUID      `json:"island"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Logger records audit events. Implementations are safe for concurrent use.
type Logger interface {
	Log(e Event)
	Close() error
}

// Nop is a Logger that discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// Writer is a Logger writing to <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst.
type Writer struct {
	dir    string
	prefix string
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	hour   time.Time
	f      *os.File
	enc    *zstd.Encoder
	closed bool
}

// Open creates dir if needed and returns a Writer logging into it. Files are
// opened lazily on the first event of every hour.
func Open(dir, prefix string, log *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit folder: %w", err)
	}
	return &Writer{dir: dir, prefix: prefix, log: log.With("subsystem", "audit"), now: time.Now}, nil
}

// Path returns the file events at t are written to.
func (w *Writer) Path(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, t.UTC().Format("2006-01-02-15")))
}

// Log writes e, setting its time if unset. Failures are logged and the event
// is dropped.
func (w *Writer) Log(e Event) {
	if e.Time.IsZero() {
		e.Time = w.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		w.log.Error("Failed to encode audit event.", "kind", e.Kind, "err", err)
		return
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.rotateLocked(e.Time); err != nil {
		w.log.Error("Failed to open audit file.", "err", err)
		return
	}
	if _, err := w.enc.Write(data); err != nil {
		w.log.Error("Failed to write audit event.", "kind", e.Kind, "err", err)
	}
}

func (w *Writer) rotateLocked(t time.Time) error {
	hour := t.UTC().Truncate(time.Hour)
	if w.enc != nil && hour.Equal(w.hour) {
		return nil
	}
	if err := w.closeFileLocked(); err != nil {
		w.log.Error("Failed to close audit file.", "err", err)
	}
	f, err := os.OpenFile(w.Path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	return nil
}

func (w *Writer) closeFileLocked() error {
	if w.enc == nil {
		return nil
	}
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	w.f, w.enc = nil, nil
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// Flush writes buffered events of the current file to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	return w.enc.Flush()
}

// Close finishes the current file. Events logged afterwards are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeFileLocked()
}
