// Package simwindow is the in-process stand-in for the real DAX/devdax
// shared window. It owns a flat byte arena plus the deterministic
// per-(sender,receiver) ring placement arithmetic the wire layout specifies,
// so every node process in a single test binary computes the same offsets a
// real shared-memory mapping would hand out.
package simwindow

import (
	"fmt"

	"github.com/example/swmc-coherence/core"
)

// PageSize4K is the page-alignment unit the ring stride formula rounds up
// to; real devdax mappings are 4K-page granular regardless of host page size.
const PageSize4K = 4096

// WindowHeaderSize is the packed {u64 head, u64 tail, u8 enabled, padding}
// prefix of a ring window, before the slot array.
const WindowHeaderSize = 8 + 8 + 1 + 7 // padding rounds the header to 24 bytes

// SlotSize is the message struct padded and aligned to one cache line.
const SlotSize = core.CLSize

// WindowSize returns sizeof(window) for a ring with the given slot capacity:
// the packed header plus slots*SlotSize.
func WindowSize(slots int) int {
	return WindowHeaderSize + slots*SlotSize
}

// RingStride returns ceil(sizeof(window)/4096)*4096, the page-aligned stride
// between consecutive (s,r) ring placements, per the wire layout.
func RingStride(slots int) int {
	size := WindowSize(slots)
	return ((size + PageSize4K - 1) / PageSize4K) * PageSize4K
}

// Arena is the simulated shared window: one contiguous byte slice holding
// every sender→receiver ring's window, laid out at deterministic offsets.
type Arena struct {
	base       int // configured absolute shared-window offset
	nodeCount  int
	ringSlots  int
	stride     int
	bytes      []byte
}

// NewArena allocates an arena sized for nodeCount nodes (N*(N-1) rings) with
// the given per-ring slot capacity, and the configured base offset of the
// ring area within the (simulated) shared window.
func NewArena(nodeCount, ringSlots, base int) (*Arena, error) {
	if nodeCount < 2 {
		return nil, fmt.Errorf("simwindow: nodeCount must be >= 2, got %d", nodeCount)
	}
	if ringSlots <= 0 || ringSlots&(ringSlots-1) != 0 {
		return nil, fmt.Errorf("simwindow: ringSlots must be a power of two, got %d", ringSlots)
	}

	stride := RingStride(ringSlots)
	ringCount := nodeCount * (nodeCount - 1)
	total := base + ringCount*stride

	return &Arena{
		base:      base,
		nodeCount: nodeCount,
		ringSlots: ringSlots,
		stride:    stride,
		bytes:     make([]byte, total),
	}, nil
}

// ringIndex returns the deterministic (s,r) -> [0, N*(N-1)) ring index, by
// enumerating all ordered pairs with s != r in row-major order and skipping
// the diagonal.
func (a *Arena) ringIndex(sender, receiver core.NodeID) (int, error) {
	s, r := int(sender), int(receiver)
	if s == r {
		return 0, fmt.Errorf("simwindow: sender and receiver must differ, got %d", s)
	}
	if s < 0 || s >= a.nodeCount || r < 0 || r >= a.nodeCount {
		return 0, fmt.Errorf("simwindow: node id out of range [0,%d): sender=%d receiver=%d", a.nodeCount, s, r)
	}

	idx := s*(a.nodeCount-1) + r
	if r > s {
		idx--
	}
	return idx, nil
}

// RingOffset returns the absolute byte offset of the (sender,receiver)
// ring's window within the arena.
func (a *Arena) RingOffset(sender, receiver core.NodeID) (int, error) {
	idx, err := a.ringIndex(sender, receiver)
	if err != nil {
		return 0, err
	}
	return a.base + idx*a.stride, nil
}

// RingBytes returns the byte slice backing the (sender,receiver) ring's
// window, sized to exactly sizeof(window) (not the full stride, which
// includes page-alignment padding).
func (a *Arena) RingBytes(sender, receiver core.NodeID) ([]byte, error) {
	off, err := a.RingOffset(sender, receiver)
	if err != nil {
		return nil, err
	}
	size := WindowSize(a.ringSlots)
	return a.bytes[off : off+size], nil
}

// RingSlots returns the configured per-ring slot capacity.
func (a *Arena) RingSlots() int { return a.ringSlots }

// NodeCount returns the number of nodes the arena was sized for.
func (a *Arena) NodeCount() int { return a.nodeCount }

// Stride returns the page-aligned byte stride between consecutive ring
// placements.
func (a *Arena) Stride() int { return a.stride }

// Size returns the total arena size in bytes.
func (a *Arena) Size() int { return len(a.bytes) }
