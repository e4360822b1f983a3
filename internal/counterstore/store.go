// Package counterstore implements the generic counter interface every
// coding role uses to keep group-scoped, monotonically increasing
// counters (e.g. "encoder TX_ENC", "helper TX_REC") visible to an
// out-of-process inspector without any RPC: the counters live in a
// POSIX shared-memory segment, mirroring the reference design's
// boost::interprocess counter map, and are read back with plain mmap by
// cmd/rlncd-counters.
//
// The table is a fixed-capacity array filled in creation order rather
// than a real hash map; rlncd only ever creates on the order of a few
// dozen distinct counter names (one or two per role per packet type), so
// a linear scan under the table's single spinlock is both adequate and,
// unlike a
// pointer-based structure, safe to place directly in memory shared
// across processes.
package counterstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// DefaultPath mirrors the reference design's fixed SHM_NAME; rlncd
	// processes for different mesh interfaces can override it via
	// --counters_path to avoid colliding on one shared host.
	DefaultPath = "/dev/shm/rlncd_counters"

	maxCounters = 512
	maxKeyLen   = 96

	magicValue = uint64(0x524c4e43444d4147) // "RLNCDMAG"

	headerSize = 8 /*magic*/ + 4 /*lock*/ + 4 /*count*/
	slotSize   = 4 /*keyLen*/ + maxKeyLen + 8 /*value*/
)

func segmentSize() int64 {
	return int64(headerSize + maxCounters*slotSize)
}

// Store is a shared-memory-backed counter table. The zero value is not
// usable; construct one with Create or Open.
type Store struct {
	mu       sync.Mutex // serializes this process's own access
	data     []byte
	writable bool
}

// Create opens (creating if necessary) the shared-memory segment at path
// for read-write access and initializes its header if it is new.
func Create(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("counterstore: open %s: %w", path, err)
	}
	defer f.Close()

	size := segmentSize()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("counterstore: stat %s: %w", path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("counterstore: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("counterstore: mmap %s: %w", path, err)
	}

	s := &Store{data: data, writable: true}
	if binary.LittleEndian.Uint64(data[0:8]) != magicValue {
		binary.LittleEndian.PutUint64(data[0:8], magicValue)
		binary.LittleEndian.PutUint32(data[8:12], 0)
		binary.LittleEndian.PutUint32(data[12:16], 0)
	}
	return s, nil
}

// Open opens an existing segment read-only, for use by an inspector
// process that must not race the daemon's own writes.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("counterstore: open %s: %w", path, err)
	}
	defer f.Close()

	size := segmentSize()
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("counterstore: mmap %s: %w", path, err)
	}

	if binary.LittleEndian.Uint64(data[0:8]) != magicValue {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("counterstore: %s does not contain a counter segment", path)
	}

	return &Store{data: data, writable: false}, nil
}

// Close unmaps the segment.
func (s *Store) Close() error {
	return unix.Munmap(s.data)
}

func (s *Store) lockWord() []byte  { return s.data[8:12] }
func (s *Store) countWord() []byte { return s.data[12:16] }

func (s *Store) slot(i int) []byte {
	off := headerSize + i*slotSize
	return s.data[off : off+slotSize]
}

func slotKeyLen(slot []byte) int { return int(binary.LittleEndian.Uint32(slot[0:4])) }
func slotKey(slot []byte) []byte { return slot[4 : 4+maxKeyLen] }
func slotValuePtr(slot []byte) []byte {
	return slot[4+maxKeyLen : 4+maxKeyLen+8]
}

// spinLock acquires the segment-wide cross-process lock word. Held only
// across the handful of loads/stores in Add, never across
// I/O, so contention is brief.
func (s *Store) spinLock() {
	w := s.lockWord()
	for {
		if atomicCAS32(w, 0, 1) {
			return
		}
	}
}

func (s *Store) spinUnlock() {
	atomicStore32(s.lockWord(), 0)
}

// Increment adds 1 to the named counter, creating it at value 1 if it
// does not yet exist. key is typically "<role> <PACKET_TYPE>", matching
// the reference design's "<group> <counter>" naming.
func (s *Store) Increment(key string) error {
	return s.Add(key, 1)
}

// Add adds delta to the named counter, creating it if needed.
func (s *Store) Add(key string, delta uint64) error {
	if !s.writable {
		return fmt.Errorf("counterstore: store is read-only")
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("counterstore: key %q exceeds %d bytes", key, maxKeyLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.spinLock()
	defer s.spinUnlock()

	count := int(binary.LittleEndian.Uint32(s.countWord()))
	for i := 0; i < count; i++ {
		slot := s.slot(i)
		if slotKeyLen(slot) == len(key) && string(slotKey(slot)[:len(key)]) == key {
			v := binary.LittleEndian.Uint64(slotValuePtr(slot))
			binary.LittleEndian.PutUint64(slotValuePtr(slot), v+delta)
			return nil
		}
	}

	if count >= maxCounters {
		return fmt.Errorf("counterstore: counter table full (%d entries)", maxCounters)
	}

	slot := s.slot(count)
	binary.LittleEndian.PutUint32(slot[0:4], uint32(len(key)))
	copy(slotKey(slot), key)
	binary.LittleEndian.PutUint64(slotValuePtr(slot), delta)
	binary.LittleEndian.PutUint32(s.countWord(), uint32(count+1))
	return nil
}

// Counter is one named entry read back from the table.
type Counter struct {
	Key   string
	Value uint64
}

// All returns every counter currently in the table, in creation order.
func (s *Store) All() []Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := int(binary.LittleEndian.Uint32(s.countWord()))
	out := make([]Counter, 0, count)
	for i := 0; i < count; i++ {
		slot := s.slot(i)
		n := slotKeyLen(slot)
		out = append(out, Counter{
			Key:   string(slotKey(slot)[:n]),
			Value: binary.LittleEndian.Uint64(slotValuePtr(slot)),
		})
	}
	return out
}

// Group exposes the reference design's counter_api: a fixed group prefix
// (e.g. a role name) so a coder can call Inc with just the local counter
// name.
type Group struct {
	store *Store
	name  string
}

// NewGroup returns a Group that increments counters under "name <key>".
func NewGroup(store *Store, name string) *Group {
	return &Group{store: store, name: name}
}

// Inc increments "<group> <key>" by 1. Errors are swallowed (counters
// are diagnostic, never load-bearing), matching the reference design's
// fire-and-forget inc().
func (g *Group) Inc(key string) {
	if g == nil || g.store == nil {
		return
	}
	_ = g.store.Increment(g.name + " " + key)
}
