// Package protocol defines the wire-level constants and identifiers shared
// by every other package in rlncd: the flow key, packet types, and the
// ONE-based loss-estimate scale.
package protocol

import (
	"fmt"
)

// AddrLen is the length of a mesh (Ethernet) hardware address.
const AddrLen = 6

// Addr is a mesh hardware address, used as the src/dst halves of a Key.
type Addr [AddrLen]byte

// String renders addr as colon-separated hex, e.g. "02:00:00:00:00:01".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Key identifies one (source, destination, block) generation. It is the
// map key for every per-role coder registry and is totally ordered by
// Less: lexicographic on (Src, Dst, Block).
type Key struct {
	Src   Addr
	Dst   Addr
	Block uint16
}

// PathKey is the (Src, Dst) prefix of a Key, used to track the latest
// block id seen for a flow irrespective of generation.
type PathKey struct {
	Src Addr
	Dst Addr
}

// Path returns the (Src, Dst) prefix of k.
func (k Key) Path() PathKey {
	return PathKey{Src: k.Src, Dst: k.Dst}
}

// WithBlock returns a copy of k with Block replaced.
func (k Key) WithBlock(block uint16) Key {
	k.Block = block
	return k
}

// Less reports whether k sorts before other: lexicographic on
// (Src, Dst, Block).
func (k Key) Less(other Key) bool {
	if c := compareAddr(k.Src, other.Src); c != 0 {
		return c < 0
	}
	if c := compareAddr(k.Dst, other.Dst); c != 0 {
		return c < 0
	}
	return k.Block < other.Block
}

func compareAddr(a, b Addr) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (k Key) String() string {
	return fmt.Sprintf("%s -> %s (%d)", k.Src, k.Dst, k.Block)
}
