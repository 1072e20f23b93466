// Package msgring implements the single-producer/single-consumer ring
// window the wire layout describes: a packed {head, tail, enabled, slots}
// struct living in the simulated shared window, with monotonic 64-bit
// counters and the explicit cache-flush/invalidate discipline standing in
// for hardware coherence between the two simulated "nodes" that share it.
package msgring

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/example/swmc-coherence/cacheflush"
	"github.com/example/swmc-coherence/core"
)

// headOffset, tailOffset, enabledOffset mirror the packed window header
// layout from simwindow.WindowHeaderSize: {u64 head, u64 tail, u8 enabled}.
const (
	headOffset    = 0
	tailOffset    = 8
	enabledOffset = 16
	slotsOffset   = 24 // simwindow.WindowHeaderSize
)

// Ring is one sender→receiver SPSC window. Two Ring values constructed over
// the same backing bytes (one by the sender, one by the receiver) model the
// two ends of a shared-memory ring; they communicate only by reading and
// writing the shared bytes plus the flush/invalidate calls, never through a
// Go-level lock.
type Ring struct {
	window []byte // packed header + slots, length == simwindow.WindowSize(slots)
	slots  int    // power-of-two slot count
	flush  *cacheflush.Line

	// sent/consumed count this view's own successful sends and receives;
	// head and tail themselves live only in the shared bytes.
	sent     atomic.Uint64 // sender-local mirror of head
	consumed atomic.Uint64 // receiver-local mirror of tail
}

// Open constructs a Ring view over window bytes already sized by
// simwindow.WindowSize(slots). Both the sender side and the receiver side
// call Open over the same bytes; each then calls only the methods its role
// uses (Send/Poll respectively).
func Open(window []byte, slots int) *Ring {
	return &Ring{
		window: window,
		slots:  slots,
		flush:  &cacheflush.Line{},
	}
}

// Enable marks the ring usable; callers must call this once after Open on
// the sender side before the first Send, matching the wire layout's
// `enabled` byte.
func (r *Ring) Enable() {
	r.window[enabledOffset] = 1
	r.flush.Flush()
}

// Disable marks the ring unusable; Send and Poll both become no-ops.
func (r *Ring) Disable() {
	r.window[enabledOffset] = 0
	r.flush.Flush()
}

// Enabled reports the current state of the enabled byte, invalidating first
// so a freshly toggled remote state is observed.
func (r *Ring) Enabled() bool {
	r.flush.Invalidate()
	return r.window[enabledOffset] != 0
}

func (r *Ring) readHead() uint64 { return binary.LittleEndian.Uint64(r.window[headOffset:]) }
func (r *Ring) readTail() uint64 { return binary.LittleEndian.Uint64(r.window[tailOffset:]) }

func (r *Ring) writeHead(v uint64) { binary.LittleEndian.PutUint64(r.window[headOffset:], v) }
func (r *Ring) writeTail(v uint64) { binary.LittleEndian.PutUint64(r.window[tailOffset:], v) }

func (r *Ring) slotOffset(index uint64) int {
	return slotsOffset + int(index%uint64(r.slots))*core.CLSize
}

// Full reports whether the ring has no free slot for a new message.
func (r *Ring) Full() bool {
	r.flush.Invalidate()
	head := r.readHead()
	tail := r.readTail()
	return head-tail >= uint64(r.slots)
}

// Empty reports whether the ring has no message ready to poll.
func (r *Ring) Empty() bool {
	r.flush.Invalidate()
	head := r.readHead()
	tail := r.readTail()
	return head == tail
}

// Send writes msg into the next slot and advances head. It returns false if
// the ring is disabled or full (the caller's queue-full fault path, not an
// error: the spec's back-pressure is the caller retrying or forcing sync).
//
// Send is the ring's single writer; concurrent calls from more than one
// goroutine are not supported, matching the single-writer counter policy.
func (r *Ring) Send(msg core.Message) bool {
	if !r.Enabled() {
		return false
	}
	if r.Full() {
		return false
	}

	head := r.readHead()
	buf := msg.MarshalBinary()
	copy(r.window[r.slotOffset(head):], buf)
	r.flush.Flush() // publish the slot write before advancing head

	r.writeHead(head + 1)
	r.flush.Flush() // publish the new head to the receiver
	r.sent.Add(1)
	return true
}

// Poll reads the oldest unread message and advances tail. ok is false if
// the ring is disabled or empty.
//
// Poll is the ring's single reader; concurrent calls from more than one
// goroutine are not supported, matching the single-reader counter policy.
func (r *Ring) Poll() (msg core.Message, ok bool) {
	if !r.Enabled() {
		return core.Message{}, false
	}
	if r.Empty() {
		return core.Message{}, false
	}

	tail := r.readTail()
	r.flush.Invalidate() // see the sender's slot write before reading it
	buf := r.window[r.slotOffset(tail) : r.slotOffset(tail)+core.WireSize]
	msg, ok = core.UnmarshalMessage(buf)
	if !ok {
		return core.Message{}, false
	}

	r.writeTail(tail + 1)
	r.flush.Flush() // publish the new tail to the sender
	r.consumed.Add(1)
	return msg, true
}

// Depth returns the number of messages currently queued (head - tail).
func (r *Ring) Depth() uint64 {
	r.flush.Invalidate()
	return r.readHead() - r.readTail()
}

// Sent returns this end's local count of successful Send calls.
func (r *Ring) Sent() uint64 { return r.sent.Load() }

// Consumed returns this end's local count of successful Poll calls.
func (r *Ring) Consumed() uint64 { return r.consumed.Load() }

// Slots returns the ring's configured slot capacity.
func (r *Ring) Slots() int { return r.slots }
