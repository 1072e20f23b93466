// Package waitstation implements the wait-station registry: the rendezvous
// that turns one outbound broadcast needing K acknowledgements into a single
// sleepable object. A local fault acquires a station, hands its id to every
// outbound message, and blocks until deliver_ack/deliver_nack has driven the
// expected-ACK counter to zero.
package waitstation

import (
	"sync"

	"github.com/example/swmc-coherence/coherr"
)

// PoolOrder is the id space's bit order; the pool holds 2^PoolOrder ids.
const PoolOrder = 16

// Capacity is the total number of station ids available (order 64K).
const Capacity = 1 << PoolOrder

// SoftThresholdPercent is the pool occupancy percentage at which
// AtSoftThreshold reports true and callers take the synchronous transaction
// path instead of the asynchronous one.
const SoftThresholdPercent = 80

// softThreshold is the absolute occupancy count matching SoftThresholdPercent.
const softThreshold = Capacity * SoftThresholdPercent / 100

// Outcome is the result a waiter observes from Wait.
type Outcome int

const (
	Ok Outcome = iota
	Nacked
)

// Station is one rendezvous object: an id, the remaining ACK count, and an
// optional async-completion marker. Callers draw a Station from a Registry
// and must release it exactly once via the Registry that created it.
type Station struct {
	id   int32
	mu   sync.Mutex
	cond *sync.Cond

	remaining int
	nacked    bool
	done      bool

	// Private mirrors the kernel wait_station's `private` field: the
	// caller-supplied payload a completion carries back (e.g. a replica
	// frame pointer). Async stands in for `async_page`: when true, a
	// completed station is also handed to the async-completion path, in
	// addition to waking any blocked waiter.
	Private any
	Async   bool
}

// ID returns the station's pool id.
func (s *Station) ID() int32 { return s.id }

// Wait blocks until every expected ACK/NACK has arrived and returns the
// terminal outcome. There is no timeout: per the protocol, every
// transaction is eventually settled by an ACK or NACK delivered over the
// reliable ring, or the station is orphaned and leaked. Safe to call on an
// Async station too (e.g. ActionWaitForAsyncTransaction waiting on an
// earlier async fetch for the same page); completion always broadcasts the
// condition regardless of Async, only routing to AsyncCompletions in
// addition.
func (s *Station) Wait() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		s.cond.Wait()
	}
	if s.nacked {
		return Nacked
	}
	return Ok
}

// Outcome returns the terminal outcome of a station that has already
// completed. Safe to call only after the station has been observed on
// AsyncCompletions or a Wait call has returned.
func (s *Station) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nacked {
		return Nacked
	}
	return Ok
}

// Registry is the 64K-entry wait-station pool. One Registry is shared by
// every local fault and the async-completion daemon on a node.
type Registry struct {
	mu        sync.Mutex
	stations  map[int32]*Station
	nextID    int32
	asyncDone chan *Station
}

// NewRegistry constructs an empty registry. asyncQueueDepth sizes the
// channel the async-completion daemon drains; a station whose Async flag is
// set is pushed here on completion, after any direct waiter is woken.
func NewRegistry(asyncQueueDepth int) *Registry {
	return &Registry{
		stations:  make(map[int32]*Station, Capacity/4),
		asyncDone: make(chan *Station, asyncQueueDepth),
	}
}

// Len returns the current number of outstanding (unreleased) stations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stations)
}

// AtSoftThreshold reports whether the pool has reached its 80% occupancy
// mark; callers should take this as a signal to fall back to the
// synchronous transaction path rather than an asynchronous one.
func (r *Registry) AtSoftThreshold() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stations) >= softThreshold
}

// Acquire draws a station id from the pool and sets its expected-ACK count.
// It returns coherr.OutOfResources if the pool is exhausted (every id in
// use, which given the soft-threshold policy should not happen in practice).
func (r *Registry) Acquire(expectedACKs int) (*Station, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.stations) >= Capacity {
		return nil, coherr.New(coherr.OutOfResources, "wait-station pool exhausted")
	}

	var id int32
	for {
		id = r.nextID
		r.nextID = (r.nextID + 1) % Capacity
		if _, taken := r.stations[id]; !taken {
			break
		}
	}

	st := &Station{id: id, remaining: expectedACKs}
	st.cond = sync.NewCond(&st.mu)
	r.stations[id] = st
	return st, nil
}

// lookup returns the station for id, or nil if it has no outstanding
// station (already completed and released, or never acquired — both look
// the same to a late/duplicate delivery, which the caller should drop).
func (r *Registry) lookup(id int32) *Station {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stations[id]
}

// DeliverAck decrements id's expected-ACK counter. When the counter reaches
// zero, it wakes any blocked Wait caller and, if the station is marked
// Async, also pushes it onto the async-completion work-ring. A delivery to an
// unknown id (already released, or never acquired) is dropped.
func (r *Registry) DeliverAck(id int32) {
	st := r.lookup(id)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	st.remaining--
	complete := st.remaining <= 0
	async := complete && st.Async
	if complete {
		st.done = true
	}
	st.mu.Unlock()

	if !complete {
		return
	}
	// Always wake a direct Wait caller, even on an Async station: a local
	// fault's ActionWaitForAsyncTransaction may be blocked on this exact
	// station. Completion still also routes to AsyncCompletions so the
	// completion daemon can release it.
	st.cond.Broadcast()
	if async {
		r.asyncDone <- st
	}
}

// DeliverNack marks id's station as failed. A single NACK is sufficient to
// fail the whole rendezvous, matching the kernel's "mark private with a
// sentinel" behavior; any further ACKs for the same id are ignored because
// the station is already done.
func (r *Registry) DeliverNack(id int32) {
	st := r.lookup(id)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	st.nacked = true
	st.done = true
	async := st.Async
	st.mu.Unlock()

	st.cond.Broadcast()
	if async {
		r.asyncDone <- st
	}
}

// AsyncCompletions returns the channel the async-completion daemon drains
// for stations that finished (ACK or NACK) with Async set.
func (r *Registry) AsyncCompletions() <-chan *Station {
	return r.asyncDone
}

// Release returns id to the pool. Callers that created a station via
// Acquire must call Release exactly once after Wait returns (or, for async
// stations, after draining it from AsyncCompletions). Releasing an unknown
// id is a no-op: an orphaned station that is never released stays leaked
// intentionally, per the protocol's no-timeout policy.
func (r *Registry) Release(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stations, id)
}
