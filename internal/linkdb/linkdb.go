// Package linkdb tracks everything rlncd learns about its neighborhood
// from GET_LINK/GET_ONE_HOP/GET_RELAYS netlink events: per-neighbor link
// quality (TQ), the one-hop candidates toward a destination, and the
// helper advertisements relayed along an active path. It is the Go
// counterpart of the reference design's io class's three maps
// (m_links, m_one_hops, m_helpers), with TQ smoothed via a moving
// average instead of taken as instantaneous, matching how the reference
// rQUIC encoder itself smooths its own link estimates
// (rencoder/smoothed_value.go) rather than trusting a single sample.
package linkdb

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/batmesh/rlncd/internal/protocol"
)

// HelperInfo is one candidate relay's advertised link quality: the TQ
// from the advertiser toward the final destination, and from the
// advertiser to the next hop it would relay through.
type HelperInfo struct {
	Addr        protocol.Addr
	TQTotal     uint8
	TQSecondHop uint8
}

// DB is the mutable neighborhood state for one mesh interface. The zero
// value is not usable; construct one with New.
type DB struct {
	mu sync.RWMutex

	links    map[protocol.Addr]*smoothedTQ
	oneHops  map[protocol.Addr]map[protocol.Addr]HelperInfo
	helpers  map[protocol.PathKey]map[protocol.Addr]HelperInfo
	smoothN  int
}

// New returns a DB that smooths TQ samples over smoothPeriods updates
// (matching the reference encoder's configurable smoothing window).
func New(smoothPeriods int) *DB {
	if smoothPeriods <= 0 {
		smoothPeriods = 1
	}
	return &DB{
		links:   make(map[protocol.Addr]*smoothedTQ),
		oneHops: make(map[protocol.Addr]map[protocol.Addr]HelperInfo),
		helpers: make(map[protocol.PathKey]map[protocol.Addr]HelperInfo),
		smoothN: smoothPeriods,
	}
}

// AddLink records a fresh one-hop TQ sample toward neighbor, returning
// the smoothed value.
func (db *DB) AddLink(neighbor protocol.Addr, tq uint8) uint8 {
	db.mu.Lock()
	defer db.mu.Unlock()

	sv, ok := db.links[neighbor]
	if !ok {
		sv = newSmoothedTQ(db.smoothN)
		db.links[neighbor] = sv
	}
	return sv.update(tq)
}

// Link returns the smoothed TQ estimate toward neighbor, and whether any
// sample has ever been recorded.
func (db *DB) Link(neighbor protocol.Addr) (uint8, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	sv, ok := db.links[neighbor]
	if !ok {
		return 0, false
	}
	return sv.value(), true
}

// AddOneHop records a one-hop relay candidate toward dst.
func (db *DB) AddOneHop(dst protocol.Addr, info HelperInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.oneHops[dst]
	if !ok {
		m = make(map[protocol.Addr]HelperInfo)
		db.oneHops[dst] = m
	}
	m[info.Addr] = info
}

// ClearOneHops drops every one-hop candidate recorded toward dst.
func (db *DB) ClearOneHops(dst protocol.Addr) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.oneHops, dst)
}

// BestOneHop returns the one-hop candidate toward dst with the highest
// TQTotal, matching the reference design's get_best_one_hop: the
// recoder consults this once, at init, to decide its own forwarding
// budget relative to the best available relay.
func (db *DB) BestOneHop(dst protocol.Addr) (HelperInfo, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var best HelperInfo
	found := false
	for _, info := range db.oneHops[dst] {
		if !found || info.TQTotal > best.TQTotal {
			best = info
			found = true
		}
	}
	return best, found
}

// AddHelper records a helper's relay advertisement along the (src, dst)
// path.
func (db *DB) AddHelper(path protocol.PathKey, info HelperInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.helpers[path]
	if !ok {
		m = make(map[protocol.Addr]HelperInfo)
		db.helpers[path] = m
	}
	m[info.Addr] = info
}

// ClearHelpers drops every helper advertisement recorded along path.
func (db *DB) ClearHelpers(path protocol.PathKey) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.helpers, path)
}

// Helpers returns every helper advertisement currently recorded along
// path.
func (db *DB) Helpers(path protocol.PathKey) []HelperInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]HelperInfo, 0, len(db.helpers[path]))
	for _, info := range db.helpers[path] {
		out = append(out, info)
	}
	return out
}

// smoothedTQ is a fixed-window moving average over uint8 TQ samples,
// computed with gonum/stat rather than hand-rolled running-sum
// bookkeeping.
type smoothedTQ struct {
	mu      sync.Mutex
	samples []float64
	idx     int
	filled  bool
}

func newSmoothedTQ(periods int) *smoothedTQ {
	return &smoothedTQ{samples: make([]float64, periods)}
}

func (s *smoothedTQ) update(tq uint8) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[s.idx] = float64(tq)
	s.idx = (s.idx + 1) % len(s.samples)
	if s.idx == 0 {
		s.filled = true
	}
	return s.meanLocked()
}

func (s *smoothedTQ) value() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meanLocked()
}

func (s *smoothedTQ) meanLocked() uint8 {
	window := s.samples
	if !s.filled {
		window = s.samples[:s.idx]
	}
	if len(window) == 0 {
		return 0
	}
	mean := stat.Mean(window, nil)
	if mean > 255 {
		mean = 255
	}
	return uint8(mean)
}
