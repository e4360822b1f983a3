// Package clock gives a coder its own notion of elapsed time: a generation
// timeout (how long since the coder was created or last reset) and a
// separate packet timeout (how long since the last packet was seen),
// grounded on the reference design's timeout helper.
package clock

import (
	"sync"
	"time"
)

// Timeout tracks two independent clocks for one coder: the generation
// clock (InitTimeout/IsTimedOut) and the packet clock
// (UpdatePacketTimestamp/PacketTimedOut). Safe for concurrent use.
type Timeout struct {
	mu sync.Mutex

	timestamp time.Time
	last      time.Time

	timeout    time.Duration
	pktTimeout time.Duration

	now func() time.Time
}

// New returns a Timeout whose clock is real wall time.
func New() *Timeout {
	return &Timeout{now: time.Now}
}

// newWithClock is used by tests to inject a deterministic clock.
func newWithClock(now func() time.Time) *Timeout {
	return &Timeout{now: now}
}

// clockNow returns the injected clock, defaulting to real wall time for
// a zero-value Timeout (e.g. one embedded by value rather than built via
// New).
func (t *Timeout) clockNow() time.Time {
	if t.now == nil {
		t.now = time.Now
	}
	return t.now()
}

// InitTimeout resets both clocks to now and sets the generation timeout.
func (t *Timeout) InitTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.clockNow()
	t.last = n
	t.timestamp = n
	t.timeout = d
}

// SetPacketTimeout sets the packet-idle timeout used by PacketTimedOut.
func (t *Timeout) SetPacketTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pktTimeout = d
}

// UpdateTimestamp resets the generation clock without changing the
// configured timeout.
func (t *Timeout) UpdateTimestamp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timestamp = t.clockNow()
}

// UpdatePacketTimestamp resets the packet-idle clock.
func (t *Timeout) UpdatePacketTimestamp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clockNow()
}

// IsTimedOut reports whether the generation clock has exceeded its
// configured timeout.
func (t *Timeout) IsTimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkTimeout(t.timestamp, t.timeout)
}

// IsTimedOutAfter reports whether the generation clock has exceeded d,
// overriding the configured timeout for this one check.
func (t *Timeout) IsTimedOutAfter(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkTimeout(t.timestamp, d)
}

// PacketTimedOut reports whether the packet-idle clock has exceeded its
// configured timeout.
func (t *Timeout) PacketTimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkTimeout(t.last, t.pktTimeout)
}

func (t *Timeout) checkTimeout(ts time.Time, d time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return t.clockNow().Sub(ts) > d
}
