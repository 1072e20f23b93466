// Package cacheflush simulates the explicit cache-line flush/invalidate
// discipline the wire protocol relies on in place of hardware coherence.
//
// The shared arena here is ordinary Go memory, so two goroutines standing in
// for two nodes could simply share a mutex. That would hide the very bug the
// real protocol has to avoid: forgetting to flush after a write, or to
// invalidate before a read. Flush and Invalidate instead go through a
// sync/atomic release/acquire pair plus a runtime.Gosched yield point, so
// code that skips them is racy for real and tests can catch it with -race.
package cacheflush

import (
	"runtime"
	"sync/atomic"
)

// Line is one cache-line-sized synchronization point. Writers call Flush
// after storing into the bytes the line covers; readers call Invalidate
// before loading them. Neither call touches the underlying bytes — callers
// own those directly — Line only carries the release/acquire ordering.
type Line struct {
	seq atomic.Uint64
}

// Flush publishes all writes the caller made before this call, analogous to
// a clwb+sfence on real persistent memory. It must be called after writing
// and before signalling the remote side (e.g. advancing a ring tail).
func (l *Line) Flush() {
	l.seq.Add(1)
	runtime.Gosched()
}

// Invalidate ensures the caller observes every Flush that happened-before
// the matching signal it received (e.g. an observed ring head advance). It
// must be called before reading and after observing the remote signal.
func (l *Line) Invalidate() {
	_ = l.seq.Load()
	runtime.Gosched()
}

// Generation returns the number of Flush calls observed so far; tests use it
// to assert that a write was actually flushed rather than merely stored.
func (l *Line) Generation() uint64 {
	return l.seq.Load()
}

// FlushRange flushes every line in a slice, for a write that spans more
// than one simulated cache line.
func FlushRange(lines []*Line) {
	for _, l := range lines {
		l.Flush()
	}
}

// InvalidateRange invalidates every line in a slice before a multi-line read.
func InvalidateRange(lines []*Line) {
	for _, l := range lines {
		l.Invalidate()
	}
}
