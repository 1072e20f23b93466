// Package fault implements the coherence core's fault engine: the
// fault-handle hash table, the local/remote fault state machine, the
// action table that decides what each fault must do, and the remote
// priority tie-break. This is the piece on_local_fault/on_remote_message
// are built from.
package fault

import (
	"sync"
	"sync/atomic"

	"github.com/example/swmc-coherence/coherr"
	"github.com/example/swmc-coherence/core"
)

// BucketCount mirrors the reference FAULT_HASH_SIZE: a small prime so
// sequential offsets spread across shards.
const BucketCount = 31

// Handle is a per-page rendezvous object: one outstanding fault's flags,
// selected action, and (if a local fault is attached to it) a completion
// channel woken when the fault finishes.
type Handle struct {
	Offset uint64
	flags  Flags
	action Action
	waiter chan struct{}
}

// Flags returns the handle's current flag set.
func (h *Handle) Flags() Flags { return h.flags }

// Action returns the action table entry selected when the handle was built.
func (h *Handle) Action() Action { return h.action }

type bucket struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
}

// Table is the sharded fault-handle hash table plus the local acked-fault
// counter the priority tie-break reads.
type Table struct {
	buckets    [BucketCount]*bucket
	localAcked atomic.Int64
}

// NewTable constructs an empty fault-handle table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.buckets {
		t.buckets[i] = &bucket{handles: make(map[uint64]*Handle)}
	}
	return t
}

func (t *Table) bucketFor(offset uint64) *bucket {
	return t.buckets[offset%BucketCount]
}

// LocalAcked returns the node's current local acked-fault count.
func (t *Table) LocalAcked() int64 { return t.localAcked.Load() }

// IncrementLocalAcked records that a local write fault received its ACKs,
// advancing the counter the priority tie-break compares against.
func (t *Table) IncrementLocalAcked() int64 { return t.localAcked.Add(1) }

func probeFlags(meta *core.PageMeta, isWrite, remote bool) Flags {
	f := checkMetadata(0, meta.IsShared(), meta.IsModified(), meta.IsReplicated())
	if isWrite {
		f = f.set(FlagNeedWrite)
	}
	if remote {
		f = f.set(FlagRemote)
	}
	return f
}

// StartLocalFault begins handling a local fault on meta's page. If no fault
// is in flight for this page, it allocates a handle, computes its action
// from the current metadata probe, and returns it for the caller to act on.
//
// If a fault (local or remote) is already in flight, the caller blocks
// until it completes, then: if the finished handle was a write, the fault
// must be redriven from scratch (coherr.RetryFault) since the DAX entry
// lock was released in between; otherwise it returns the finished handle
// with attached=true so the caller can reuse its outcome.
func (t *Table) StartLocalFault(meta *core.PageMeta, isWrite bool) (h *Handle, attached bool, err error) {
	b := t.bucketFor(meta.Offset)
	b.mu.Lock()

	if existing, ok := b.handles[meta.Offset]; ok {
		if existing.waiter == nil {
			existing.waiter = make(chan struct{})
		}
		wait := existing.waiter
		b.mu.Unlock()

		<-wait

		// A finished remote handle is left in the table for its attached
		// local waiter to remove.
		b.mu.Lock()
		if existing.flags.has(FlagRemote) && b.handles[meta.Offset] == existing {
			delete(b.handles, meta.Offset)
		}
		b.mu.Unlock()

		if existing.flags.has(FlagNeedWrite) {
			return nil, false, coherr.New(coherr.RetryFault, "fault handling must be redone: DAX entry lock was released")
		}
		return existing, true, nil
	}

	h = &Handle{Offset: meta.Offset, flags: probeFlags(meta, isWrite, false)}
	h.action = lookupAction(h.flags)
	b.handles[meta.Offset] = h
	b.mu.Unlock()

	if h.action == ActionInvalid {
		return nil, false, coherr.New(coherr.InvariantViolation, "local fault resolved to an invalid action table cell")
	}
	return h, false, nil
}

// FinishLocalFault removes h from the table, wakes any local fault attached
// to it, and reports whether the caller must redrive the fault (the handle was marked RETRY by a higher-priority
// remote request while the local fault was in flight).
func (t *Table) FinishLocalFault(h *Handle) (retry bool) {
	b := t.bucketFor(h.Offset)
	b.mu.Lock()
	defer b.mu.Unlock()

	retry = h.flags.has(FlagRetry)
	delete(b.handles, h.Offset)
	if h.waiter != nil {
		close(h.waiter)
		h.waiter = nil
	}
	return retry
}

// StartRemoteFault begins handling a remote request on meta's page. It
// returns ack=false (NACK the remote peer) when another remote fault is
// already in flight for this page, or when a higher/equal-priority local
// fault is in flight. Otherwise it returns the handle to act on; if a
// higher-priority remote write arrived while a local fault was already
// attached to this page, the local handle is marked RETRY so it redrives
// when it wakes.
func (t *Table) StartRemoteFault(meta *core.PageMeta, isWrite bool, remoteAcked int64, remoteNode, localNode core.NodeID) (h *Handle, ack bool) {
	b := t.bucketFor(meta.Offset)
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.handles[meta.Offset]; ok {
		if existing.flags.has(FlagRemote) {
			return nil, false
		}
		if hasLowerPriority(existing.flags, isWrite, remoteAcked, remoteNode, localNode, t.localAcked.Load()) {
			return nil, false
		}
		if isWrite {
			existing.flags = existing.flags.set(FlagRetry)
		}
		return existing, true
	}

	h = &Handle{Offset: meta.Offset, flags: probeFlags(meta, isWrite, true)}
	h.action = lookupAction(h.flags)
	b.handles[meta.Offset] = h
	return h, true
}

// FinishRemoteFault completes remote handling of h. If a local fault is
// attached (waiting on h), it is woken and h stays in the table for the
// local side to finish and remove. Otherwise h is removed and freed
// directly. Returns true if h was removed.
func (t *Table) FinishRemoteFault(h *Handle) (freed bool) {
	b := t.bucketFor(h.Offset)
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.waiter != nil {
		close(h.waiter)
		h.waiter = nil
		return false
	}

	if h.flags.has(FlagRemote) {
		delete(b.handles, h.Offset)
		return true
	}
	return false
}

// InFlight reports whether a fault handle currently exists for offset.
func (t *Table) InFlight(offset uint64) bool {
	b := t.bucketFor(offset)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handles[offset]
	return ok
}
