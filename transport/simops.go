package transport

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/example/swmc-coherence/coherr"
	"github.com/example/swmc-coherence/core"
	"github.com/example/swmc-coherence/msgring"
	"github.com/example/swmc-coherence/simwindow"
)

// SimOps is the default Ops implementation, backed by the in-process
// simulated ring arena: one outbound ring per peer this node sends to, one
// inbound ring per peer this node receives from.
type SimOps struct {
	self      core.NodeID
	nodeCount int
	doneFn    func(core.Message)

	outbound map[core.NodeID]*msgring.Ring // keyed by destination peer
	inbound  map[core.NodeID]*msgring.Ring // keyed by source peer
	pollIdx  []core.NodeID                 // stable order for round-robin PollInbound
	nextPoll int
}

// NewSimOps opens every (self,peer) and (peer,self) ring over arena and
// enables the outbound ones. doneFn may be nil.
func NewSimOps(self core.NodeID, arena *simwindow.Arena, doneFn func(core.Message)) (*SimOps, error) {
	s := &SimOps{
		self:      self,
		nodeCount: arena.NodeCount(),
		doneFn:    doneFn,
		outbound:  make(map[core.NodeID]*msgring.Ring),
		inbound:   make(map[core.NodeID]*msgring.Ring),
	}

	for peer := core.NodeID(0); int(peer) < arena.NodeCount(); peer++ {
		if peer == self {
			continue
		}

		outBytes, err := arena.RingBytes(self, peer)
		if err != nil {
			return nil, errors.Wrapf(err, "opening outbound ring to node %d", peer)
		}
		out := msgring.Open(outBytes, arena.RingSlots())
		out.Enable()
		s.outbound[peer] = out

		inBytes, err := arena.RingBytes(peer, self)
		if err != nil {
			return nil, errors.Wrapf(err, "opening inbound ring from node %d", peer)
		}
		in := msgring.Open(inBytes, arena.RingSlots())
		s.inbound[peer] = in
		s.pollIdx = append(s.pollIdx, peer)
	}

	return s, nil
}

// Unicast sends one message to dest over this node's outbound ring to it.
func (s *SimOps) Unicast(msgType core.MessageType, wsID int32, dest core.NodeID, payload core.MessagePayload) error {
	ring, ok := s.outbound[dest]
	if !ok {
		return coherr.New(coherr.TransportUnavailable, fmt.Sprintf("no outbound ring registered for node %d", dest))
	}

	msg := core.Message{
		Header: core.MessageHeader{
			Type:        msgType,
			WaitStation: wsID,
			FromNode:    int32(s.self),
			ToNode:      int32(dest),
		},
		Payload: payload,
	}

	if !ring.Send(msg) {
		return coherr.New(coherr.OutOfResources, fmt.Sprintf("ring to node %d is full", dest))
	}
	return nil
}

// Broadcast sends msgType to every other node, aggregating every failure
// (not just the first) via multierror so callers see every failed peer.
func (s *SimOps) Broadcast(msgType core.MessageType, wsID int32, payload core.MessagePayload) error {
	var result *multierror.Error
	for peer := range s.outbound {
		if err := s.Unicast(msgType, wsID, peer, payload); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "broadcast to node %d", peer))
		}
	}
	return result.ErrorOrNil()
}

// Done is a no-op hook point unless a doneFn was supplied at construction.
func (s *SimOps) Done(msg core.Message) {
	if s.doneFn != nil {
		s.doneFn(msg)
	}
}

// NodeCount returns the number of nodes in the domain.
func (s *SimOps) NodeCount() int { return s.nodeCount }

// PollInbound drains the next ready message from any inbound ring, visiting
// peers in round-robin order so no single noisy peer starves the others —
// the receive loop's "drain every inbound ring in round-robin" contract.
func (s *SimOps) PollInbound() (core.Message, core.NodeID, bool) {
	n := len(s.pollIdx)
	for i := 0; i < n; i++ {
		peer := s.pollIdx[s.nextPoll]
		s.nextPoll = (s.nextPoll + 1) % n
		if msg, ok := s.inbound[peer].Poll(); ok {
			return msg, peer, true
		}
	}
	return core.Message{}, 0, false
}
