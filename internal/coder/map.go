// Package coder provides the generic registry every role keeps its live
// generations in, and the skeleton each per-generation coder embeds.
// Both are direct generalizations of the reference design's
// coder_map<Key, Coder> template and its coder base class: Go generics
// let one implementation serve all four roles instead of one
// instantiation per role as the C++ template did.
package coder

import (
	"sync"

	"github.com/batmesh/rlncd/internal/protocol"
)

// Coder is what a role's per-generation type must implement to live in a
// Map: identify itself, report whether it is still accepting new
// packets for its block, and run one housekeeping pass.
type Coder interface {
	Key() protocol.Key
	IsValid() bool
	// Process runs one housekeeping pass (e.g. checking timeouts) and
	// reports whether the coder is finished and should be evicted.
	Process() bool
}

// Map tracks, creates, and retires per-(src,dst,block) coders of type C.
// Once a key is evicted it is remembered so a stale request for it
// returns not-found rather than silently recreating a finished coder.
type Map[C Coder] struct {
	mu      sync.Mutex
	factory func(protocol.Key) C
	coders  map[protocol.Key]C
	blocks  map[protocol.PathKey]uint16
	invalid map[protocol.Key]struct{}
}

// NewMap returns an empty registry that builds new coders with factory.
func NewMap[C Coder](factory func(protocol.Key) C) *Map[C] {
	return &Map[C]{
		factory: factory,
		coders:  make(map[protocol.Key]C),
		blocks:  make(map[protocol.PathKey]uint16),
		invalid: make(map[protocol.Key]struct{}),
	}
}

func (m *Map[C]) searchCoder(key protocol.Key) (C, bool) {
	c, ok := m.coders[key]
	return c, ok
}

func (m *Map[C]) createCoder(key protocol.Key) C {
	c := m.factory(key)
	m.coders[key] = c
	return c
}

// GetCoder finds or creates the coder for key, unless key was already
// evicted as finished, in which case it reports not-found.
func (m *Map[C]) GetCoder(key protocol.Key) (C, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero C
	if _, dead := m.invalid[key]; dead {
		return zero, false
	}
	if c, ok := m.searchCoder(key); ok {
		return c, true
	}
	return m.createCoder(key), true
}

// FindCoder looks up key without creating one if absent.
func (m *Map[C]) FindCoder(key protocol.Key) (C, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCoder(key)
}

func (m *Map[C]) getBlock(path protocol.PathKey) uint16 {
	if b, ok := m.blocks[path]; ok {
		return b
	}
	m.blocks[path] = 0
	return 0
}

// GetLatestCoder returns the coder for the most recent block on path,
// starting a new block (and bumping the path's block counter) if the
// current one is missing or no longer valid. This is how an encoder
// decides "am I still working the same generation, or has a new
// one started" without the caller needing to track block numbers
// itself.
func (m *Map[C]) GetLatestCoder(path protocol.PathKey) C {
	m.mu.Lock()
	defer m.mu.Unlock()

	block := m.getBlock(path)
	key := protocol.Key{Src: path.Src, Dst: path.Dst, Block: block}

	c, ok := m.searchCoder(key)
	if !ok || !c.IsValid() {
		block++
		m.blocks[path] = block
		key.Block = block
		c = m.createCoder(key)
	}
	return c
}

// ProcessCoders runs Process on every live coder and evicts the ones
// that report done.
func (m *Map[C]) ProcessCoders() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, c := range m.coders {
		if c.Process() {
			m.invalid[key] = struct{}{}
			delete(m.coders, key)
		}
	}
}

// Len reports the number of live coders currently tracked.
func (m *Map[C]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.coders)
}
