// Package semaphore adapts golang.org/x/sync/semaphore's counting
// semaphore to the role used throughout the reference design: a single
// process-wide gate on how many encoders may send a generation's budget
// at once. An encoder's driver waits on it once when its generation
// fills, and the unit is released when that generation is acked or
// times out.
//
// The reference implementation hand-rolled a queue-based counting
// semaphore (semaphore.hpp); golang.org/x/sync/semaphore.Weighted gives
// the same counting behavior with context-cancellable acquisition, which
// is what lets Wait respect a coder's shutdown signal instead of blocking
// forever.
package semaphore

import (
	"context"
	"sync/atomic"

	xsemaphore "golang.org/x/sync/semaphore"
)

// capacity is the Weighted's total weight ceiling, effectively
// unbounded: the reference semaphore has no fixed capacity, only a
// signed count that can swing arbitrarily (even negative, while waiters
// queue) as budget accumulates.
const capacity = 1 << 62

// Semaphore is a counting semaphore exposing the reference design's
// signed count() alongside the blocking wait/notify pair, so callers can
// log or make budget decisions the way the reference coder did with
// semaphore_count().
type Semaphore struct {
	weighted *xsemaphore.Weighted
	count    atomic.Int64
}

// New returns a semaphore with initial units available before Wait
// blocks (the daemon passes its configured encoder count).
func New(initial int64) *Semaphore {
	s := &Semaphore{weighted: xsemaphore.NewWeighted(capacity)}
	if reserve := capacity - initial; reserve > 0 {
		// Permanently withhold everything beyond `initial` so only
		// `initial` units are acquirable before Wait blocks.
		_ = s.weighted.Acquire(context.Background(), reserve)
	}
	s.count.Store(initial)
	return s
}

// Wait blocks until one unit of budget is available, or ctx is done.
func (s *Semaphore) Wait(ctx context.Context) error {
	s.count.Add(-1)
	if err := s.weighted.Acquire(ctx, 1); err != nil {
		s.count.Add(1)
		return err
	}
	return nil
}

// Notify releases n units of budget back to the semaphore (n may be
// more than 1, e.g. when an ACK grants a new multi-packet budget).
func (s *Semaphore) Notify(n int64) {
	if n <= 0 {
		return
	}
	s.count.Add(n)
	s.weighted.Release(n)
}

// Count returns the current signed count: positive means units are
// immediately available, negative means that many waiters are queued.
func (s *Semaphore) Count() int64 {
	return s.count.Load()
}

// API is embedded by a coder skeleton to expose the reference design's
// optional per-coder semaphore (has_semaphore/get_semaphore/set_semaphore):
// encoders have one; the other roles run without.
type API struct {
	sem *Semaphore
}

// SetSemaphore installs sem as this coder's budget gate.
func (a *API) SetSemaphore(sem *Semaphore) {
	a.sem = sem
}

// HasSemaphore reports whether a semaphore has been installed.
func (a *API) HasSemaphore() bool {
	return a.sem != nil
}

// Semaphore returns the installed semaphore, or nil.
func (a *API) Semaphore() *Semaphore {
	return a.sem
}

// Wait blocks on the installed semaphore; a no-op if none is installed.
func (a *API) Wait(ctx context.Context) error {
	if a.sem == nil {
		return nil
	}
	return a.sem.Wait(ctx)
}

// Notify releases n units on the installed semaphore; a no-op if none is
// installed.
func (a *API) Notify(n int64) {
	if a.sem == nil {
		return
	}
	a.sem.Notify(n)
}

// Count returns the installed semaphore's signed count, or 0 if none is
// installed.
func (a *API) Count() int64 {
	if a.sem == nil {
		return 0
	}
	return a.sem.Count()
}
