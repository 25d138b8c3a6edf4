package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is a handle to a delayed or repeating job.
type Task struct {
	s         *Scheduler
	timer     *time.Timer
	stop      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

// Cancel stops the task. It is safe to call Cancel more than once and on a
// task that already ran.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.cancelled.Store(true)
		// A timer stopped before firing gives back its wait group slot here.
		if t.timer != nil && t.timer.Stop() {
			t.s.wg.Done()
		}
		if t.stop != nil {
			close(t.stop)
		}
		if t.s != nil {
			t.s.forget(t)
		}
	})
}

// Cancelled reports if Cancel was called.
func (t *Task) Cancelled() bool {
	return t == nil || t.cancelled.Load()
}
