package core

import "sync"

// ReplicaRef is an opaque handle to a replica page, owned by the replica pool.
// core only stores the handle; it never dereferences it.
type ReplicaRef interface{}

// PageMeta is the per-node private word tracked for one shared page: its
// coherence state, aged access count, last-sampled age, and (while
// replicated) a pointer to the local replica. It is mutated only while the
// owning fault handle's bucket lock is held; Snapshot and the Is* probes
// below take the read lock for read-mostly callers.
type PageMeta struct {
	mu sync.RWMutex

	Offset      uint64
	State       PageState
	AccessCount uint32
	LastAge     uint16
	Replica     ReplicaRef
}

// NewPageMeta returns a fresh, Invalid page meta for offset.
func NewPageMeta(offset uint64) *PageMeta {
	return &PageMeta{Offset: offset, State: StateInvalid}
}

// Snapshot returns a value copy safe to read without holding any other lock.
func (m *PageMeta) Snapshot() PageMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return PageMeta{
		Offset:      m.Offset,
		State:       m.State,
		AccessCount: m.AccessCount,
		LastAge:     m.LastAge,
		Replica:     m.Replica,
	}
}

// IsShared reports whether the page's probed state has the SHARED bit set
// (S or S-stale both count).
func (m *PageMeta) IsShared() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State&StateShared != 0
}

// IsModified reports whether the page's probed state has the MODIFIED bit
// set (M or S-stale both count).
func (m *PageMeta) IsModified() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State&StateModified != 0
}

// IsStale reports whether the page's probed state is the S-stale
// combination (SHARED and MODIFIED both set).
func (m *PageMeta) IsStale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State.IsStale()
}

// IsReplicated reports whether a replica pointer is currently set.
func (m *PageMeta) IsReplicated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Replica != nil
}

// SetState overwrites the coherence state wholesale. Callers must already
// hold the page's fault-handle bucket lock.
func (m *PageMeta) SetState(s PageState) {
	m.mu.Lock()
	m.State = s
	m.mu.Unlock()
}

// SetShared sets or clears the SHARED bit independently of MODIFIED,
// mirroring the reference's SetPageShared/ClearPageShared. Callers must
// already hold the page's fault-handle bucket lock.
func (m *PageMeta) SetShared(v bool) {
	m.mu.Lock()
	if v {
		m.State |= StateShared
	} else {
		m.State &^= StateShared
	}
	m.mu.Unlock()
}

// SetModified sets or clears the MODIFIED bit independently of SHARED,
// mirroring the reference's SetPageModified/ClearPageModified. Callers
// must already hold the page's fault-handle bucket lock.
func (m *PageMeta) SetModified(v bool) {
	m.mu.Lock()
	if v {
		m.State |= StateModified
	} else {
		m.State &^= StateModified
	}
	m.mu.Unlock()
}

// SetReplica sets or clears the replica pointer. Callers must already hold
// the page's fault-handle bucket lock.
func (m *PageMeta) SetReplica(r ReplicaRef) {
	m.mu.Lock()
	m.Replica = r
	m.mu.Unlock()
}

// CloneMetadata returns a shallow copy of a string map, nil-safe.
func CloneMetadata(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
