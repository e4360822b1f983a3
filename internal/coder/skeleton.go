package coder

import (
	"sync"
	"sync/atomic"

	"github.com/batmesh/rlncd/internal/clock"
	"github.com/batmesh/rlncd/internal/counterstore"
	"github.com/batmesh/rlncd/internal/protocol"
	"github.com/batmesh/rlncd/internal/semaphore"
	"github.com/batmesh/rlncd/internal/telemetry"
)

var coderNum uint64

// Skeleton is the collection of fields every role's per-generation coder
// embeds: the flow key, the generation/packet timeout clocks, an
// optional semaphore gate, a counter group, and an operational lock the
// coder's own handlers take before mutating coder state (distinct from
// the fsm.Engine's internal lock, which only protects the state
// machine's own bookkeeping).
type Skeleton struct {
	clock.Timeout
	semaphore.API

	mu   sync.Mutex
	key  protocol.Key
	num  uint64
	Log  *telemetry.Logger
	Cnts *counterstore.Group

	e1, e2, e3 uint8
}

// NewSkeleton returns a Skeleton for key, numbered for log correlation.
func NewSkeleton(key protocol.Key) Skeleton {
	return Skeleton{
		key: key,
		num: atomic.AddUint64(&coderNum, 1),
	}
}

// Key returns this coder's flow key.
func (s *Skeleton) Key() protocol.Key { return s.key }

// Num returns this coder's unique, process-lifetime sequence number,
// used only to correlate log lines for the same generation.
func (s *Skeleton) Num() uint64 { return s.num }

// Lock acquires the coder's operational lock. Handlers take this before
// mutating shared coder state and must release it before calling
// DispatchEvent on their own engine, since DispatchEvent may itself be
// invoked re-entrantly from the same goroutine via a semaphore callback.
func (s *Skeleton) Lock() { s.mu.Lock() }

// Unlock releases the coder's operational lock.
func (s *Skeleton) Unlock() { s.mu.Unlock() }

// SetEstimates installs the link-loss estimates (e1, e2, e3) this coder
// was created with. These come from either the CLI's fixed --e1/--e2/--e3
// flags or, when --link_derived_errors is set, from linkdb at creation
// time; either way they do not change for the coder's lifetime.
func (s *Skeleton) SetEstimates(e1, e2, e3 uint8) {
	s.e1, s.e2, s.e3 = e1, e2, e3
}

// Estimates returns the loss estimates this coder was created with.
func (s *Skeleton) Estimates() (e1, e2, e3 uint8) {
	return s.e1, s.e2, s.e3
}

// IsValid is the default "still accepting packets" answer; every role
// overrides this by defining its own IsValid method on the embedding
// type; Go's method promotion from Skeleton only ever covers roles that
// do not need their own definition.
func (s *Skeleton) IsValid() bool {
	return true
}
