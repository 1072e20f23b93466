// Package transport defines the downcall contract the coherence engine
// issues against ("a registered ops vector") and a default implementation
// backed by the simulated ring arena.
package transport

import "github.com/example/swmc-coherence/core"

// Ops is the downcall vector the fault engine and wait-station registry
// drive outbound traffic through. A production implementation would target
// a real fabric transport; SimOps below targets the in-process simulated
// arena.
type Ops interface {
	// Unicast sends one message to dest, carrying wsID so the receiver's
	// reply addresses the right wait station.
	Unicast(msgType core.MessageType, wsID int32, dest core.NodeID, payload core.MessagePayload) error
	// Broadcast fans a message out to every other node in the domain,
	// reporting every failure (not just the first) so callers can decide
	// how many peers actually need a retry.
	Broadcast(msgType core.MessageType, wsID int32, payload core.MessagePayload) error
	// Done notifies the transport that msg has been fully processed
	// (metadata updated, reply sent if needed), mirroring the kernel's
	// per-message `done(msg)` downcall used for bookkeeping/freeing.
	Done(msg core.Message)
	// NodeCount returns the number of nodes in the coherence domain.
	NodeCount() int
	// PollInbound drains the next ready message from any inbound ring,
	// visiting peers in round-robin order, mirroring the kernel's
	// receive loop.
	PollInbound() (core.Message, core.NodeID, bool)
}
