// Package scheduler runs feature work either on a world goroutine (sync) or on
// a bounded pool of goroutines (async), and provides cancellable delayed and
// repeating tasks.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/world"
	"golang.org/x/sync/semaphore"
)

// closedTxPanic is the panic message of a world.Tx used after its
// transaction finished. Work hopping onto a closing world may hit it.
const closedTxPanic = "world.Tx: use of transaction after transaction finishes is not permitted"

// Config configures a Scheduler.
type Config struct {
	// Workers bounds the number of async jobs running at once. If 0 or lower,
	// the number of CPUs is used.
	Workers int
}

// Scheduler owns every async job and timed task started through it so that
// Close can stop them together.
type Scheduler struct {
	log *slog.Logger
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// New creates a Scheduler.
func New(log *slog.Logger, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:    log.With("subsystem", "scheduler"),
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*Task]struct{}),
	}
}

// Async runs fn on the async pool. fn receives a context that is cancelled
// when the Scheduler closes. Async does not block; if the pool is saturated
// the job waits for a free worker on its own goroutine.
func (s *Scheduler) Async(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		defer s.recover("async")
		fn(s.ctx)
	}()
}

// Sync queues fn to run on the goroutine of w and returns a channel closed
// once fn has run. Engine state must only be mutated from such a function.
// If w is nil or the transaction is closed under fn, fn is skipped.
func (s *Scheduler) Sync(w *world.World, fn func(tx *world.Tx)) <-chan struct{} {
	if w == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return w.Exec(func(tx *world.Tx) {
		defer func() {
			if r := recover(); r != nil {
				if msg, ok := r.(string); ok && msg == closedTxPanic {
					s.log.Debug("Dropped sync task on closed transaction.")
					return
				}
				panic(r)
			}
		}()
		fn(tx)
	})
}

// After runs fn once after d on the async pool's timer goroutine. Use Sync
// inside fn to touch world state. On a closed Scheduler After returns a
// cancelled Task and fn never runs.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	t := &Task{s: s}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.cancelled.Store(true)
		return t
	}
	s.tasks[t] = struct{}{}
	s.wg.Add(1)
	t.timer = time.AfterFunc(d, func() {
		defer s.wg.Done()
		if t.cancelled.Load() {
			return
		}
		s.forget(t)
		defer s.recover("after")
		fn()
	})
	s.mu.Unlock()
	return t
}

// Every runs fn every d until the returned Task is cancelled or the
// Scheduler closes. Runs never overlap.
func (s *Scheduler) Every(d time.Duration, fn func()) *Task {
	t := &Task{s: s, stop: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.cancelled.Store(true)
		return t
	}
	s.tasks[t] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				s.runRepeating(fn)
			}
		}
	}()
	return t
}

func (s *Scheduler) runRepeating(fn func()) {
	defer s.recover("every")
	fn()
}

func (s *Scheduler) recover(kind string) {
	if r := recover(); r != nil {
		s.log.Error("Scheduled task panicked.", "kind", kind, "panic", r)
	}
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

// Pending returns the number of timed tasks that have not run or been
// cancelled yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels every task, stops accepting new work and waits for running
// async jobs and delayed tasks to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}
