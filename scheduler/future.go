package scheduler

import (
	"context"

	"github.com/df-mc/dragonfly/server/world"
)

// Load runs load on the async pool and, if it succeeds, hops back to the
// goroutine of w to run then with the result. If load fails, onErr is called
// from the async pool instead; it is expected to log and return.
func Load[T any](s *Scheduler, w *world.World, load func(ctx context.Context) (T, error), then func(tx *world.Tx, v T), onErr func(err error)) {
	s.Async(func(ctx context.Context) {
		v, err := load(ctx)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		if then != nil {
			s.Sync(w, func(tx *world.Tx) { then(tx, v) })
		}
	})
}

// Run is Load for work that produces no value, such as a save.
func Run(s *Scheduler, w *world.World, run func(ctx context.Context) error, then func(tx *world.Tx), onErr func(err error)) {
	Load(s, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, run(ctx)
	}, func(tx *world.Tx, _ struct{}) {
		if then != nil {
			then(tx)
		}
	}, onErr)
}
