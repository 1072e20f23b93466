// Package node wires every coherence subsystem together into one running
// node: the fault engine, wait-station registry, replica pool, transport,
// and hotness daemon, plus the receive loop that drains inbound messages
// and the local-fault path application code drives page faults through.
package node

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/swmc-coherence/coherr"
	"github.com/example/swmc-coherence/config"
	"github.com/example/swmc-coherence/core"
	"github.com/example/swmc-coherence/fault"
	"github.com/example/swmc-coherence/hotness"
	"github.com/example/swmc-coherence/internal/corelog"
	"github.com/example/swmc-coherence/observability"
	"github.com/example/swmc-coherence/replica"
	"github.com/example/swmc-coherence/simwindow"
	"github.com/example/swmc-coherence/transport"
	"github.com/example/swmc-coherence/waitstation"
)

// PageSize is the fixed page granularity every offset is aligned to.
const PageSize = simwindow.PageSize4K

// Node is one coherence domain participant: it owns the page metadata for
// every offset it has touched, the fault engine, the wait-station registry,
// the replica pool, a transport ops vector, and the hotness daemon that
// decides what to evict/replicate. Application code drives it through
// OnLocalFault; Run starts the receive loop and the hotness daemon.
type Node struct {
	id  core.NodeID
	cfg *config.NodeConfig
	log *corelog.Logger

	ops transport.Ops

	faults   *fault.Table
	stations *waitstation.Registry
	replicas *replica.Pool
	hotness  *hotness.Daemon

	registry *prometheus.Registry
	metrics  *observability.Metrics

	metaMu sync.Mutex
	meta   map[uint64]*core.PageMeta

	// asyncMu/asyncPending track the one outstanding async-fetch station
	// per offset, so a later ActionWaitForAsyncTransaction fault on the
	// same page can block on the exact station instead of the global
	// completion channel.
	asyncMu      sync.Mutex
	asyncPending map[uint64]*waitstation.Station

	// backing is this node's authoritative copy of every page it is the
	// home node for, keyed by offset. A real deployment would back this
	// with the fabric-attached memory segment itself; here it stands in
	// for "the data", since the simulated transport only ever moves
	// Message headers, not payload bytes.
	backingMu sync.Mutex
	backing   map[uint64][]byte

	coherenceEnabled   atomic.Bool
	replicationEnabled atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a node bound to cfg's identity, wiring a fresh fault
// table, wait-station registry, and replica pool over ops (typically a
// transport.SimOps opened against a shared simwindow.Arena).
func New(cfg *config.NodeConfig, ops transport.Ops, log *corelog.Logger) *Node {
	if log == nil {
		log = corelog.Default()
	}
	n := &Node{
		id:       core.NodeID(cfg.NodeID),
		cfg:      cfg,
		log:      log,
		ops:      ops,
		faults:       fault.NewTable(),
		stations:     waitstation.NewRegistry(1024),
		meta:         make(map[uint64]*core.PageMeta),
		backing:      make(map[uint64][]byte),
		asyncPending: make(map[uint64]*waitstation.Station),
		stop:         make(chan struct{}),
	}
	n.replicas = replica.NewPool(n)
	n.hotness = hotness.NewDaemon(
		time.Duration(cfg.SamplingIntervalSecs)*time.Second,
		cfg.HotPagePercent,
		1000, // samples/sec, generous for a simulated domain
		log,
	)
	n.hotness.Evict = n.evictReplica
	n.hotness.Replicate = n.replicateHotPage
	n.hotness.IsReplicated = n.isReplicated
	n.hotness.OnTick = n.onReplicationTick
	n.coherenceEnabled.Store(true)
	n.replicationEnabled.Store(true)

	n.registry = prometheus.NewRegistry()
	n.metrics = observability.NewMetrics(n.registry, cfg.NodeID)
	return n
}

// Registry returns the node's Prometheus registry, for mounting on a
// control.Server's /metrics endpoint.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Metrics returns the node's observability.Metrics instance, for wiring
// into a control.Server.
func (n *Node) Metrics() *observability.Metrics { return n.metrics }

// Run starts the receive loop, hotness daemon, and metrics-observation
// goroutines. Stop reverses it.
func (n *Node) Run() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.receiveLoop()
	}()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.hotness.Run()
	}()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.metricsLoop()
	}()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.asyncCompletionLoop()
	}()
}

// asyncCompletionLoop drains the wait-station registry's async-completion
// work-ring: every station an async FETCH acquired eventually lands here
// once its ACKs/NACKs settle, at which point it is unpinned from
// asyncPending and released back to the pool. This is the daemon
// SPEC_FULL's concurrency model calls for alongside the receive loop and
// the hotness daemon.
func (n *Node) asyncCompletionLoop() {
	for {
		select {
		case <-n.stop:
			return
		case st := <-n.stations.AsyncCompletions():
			offset, _ := st.Private.(uint64)
			n.asyncMu.Lock()
			if n.asyncPending[offset] == st {
				delete(n.asyncPending, offset)
			}
			n.asyncMu.Unlock()

			if st.Outcome() == waitstation.Nacked {
				n.log.Warnf("node: async fetch for offset=0x%x was nacked", offset)
			}
			n.stations.Release(st.ID())
		}
	}
}

// metricsLoop periodically copies the hotness daemon's counters and the
// wait-station registry's occupancy onto the Prometheus collectors, until Stop.
func (n *Node) metricsLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.metrics.ObserveHotnessStats(n.hotness.Snapshot())
			n.metrics.ObserveWaitStations(n.stations.Len())
		}
	}
}

// Stop signals every goroutine Run started to exit and waits for them.
func (n *Node) Stop() {
	close(n.stop)
	n.hotness.Stop()
	n.wg.Wait()
}

// ID returns this node's coherence-domain identity.
func (n *Node) ID() core.NodeID { return n.id }

func (n *Node) metaFor(offset uint64) *core.PageMeta {
	n.metaMu.Lock()
	defer n.metaMu.Unlock()
	m, ok := n.meta[offset]
	if !ok {
		m = core.NewPageMeta(offset)
		n.meta[offset] = m
	}
	return m
}

// SetCoherenceEnabled and CoherenceEnabled implement control.Node, gating
// whether the hotness sampling feed and local faults are serviced at all.
func (n *Node) SetCoherenceEnabled(v bool) { n.coherenceEnabled.Store(v); n.hotness.SetEnabled(v) }
func (n *Node) CoherenceEnabled() bool     { return n.coherenceEnabled.Load() }

// SetReplicationEnabled and ReplicationEnabled gate the hotness daemon's
// tick-driven eviction/replication decisions without touching sampling.
func (n *Node) SetReplicationEnabled(v bool) { n.replicationEnabled.Store(v) }
func (n *Node) ReplicationEnabled() bool     { return n.replicationEnabled.Load() }

// Stats returns the sysfs-style counters the hotness daemon tracks.
func (n *Node) Stats() hotness.Stats { return n.hotness.Snapshot() }

// ResetStats zeroes every sysfs-style counter.
func (n *Node) ResetStats() { n.hotness.ResetStats() }

// FlushAllReplicas drains the local replica pool, writing every replica
// back to this node's backing store regardless of hotness or recency.
func (n *Node) FlushAllReplicas() error {
	n.replicas.FlushAll(func(r *replica.Replica) error {
		return n.writeBack(r.Meta().Offset, r.Data)
	})
	return nil
}

// IsYoung and ClearYoung implement replica.Mapper with a never-young
// default; a production node would wire this to the real mapping layer's
// VMA walk. Kept here so NewPool's reclaim path has a deterministic,
// testable default instead of silently disabling reclaim.
func (n *Node) IsYoung(replicaID uint64) bool  { return false }
func (n *Node) ClearYoung(replicaID uint64)    {}

func (n *Node) readBacking(offset uint64) []byte {
	n.backingMu.Lock()
	defer n.backingMu.Unlock()
	data := n.backing[offset]
	if data == nil {
		data = make([]byte, PageSize)
		n.backing[offset] = data
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (n *Node) writeBack(offset uint64, data []byte) error {
	n.backingMu.Lock()
	defer n.backingMu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	n.backing[offset] = buf
	return nil
}

// isReplicated reports whether offset currently has a local replica, for
// the hotness daemon's Evict/Replicate decisions.
func (n *Node) isReplicated(offset uint64) bool {
	return n.metaFor(offset).IsReplicated()
}

// onReplicationTick opens a tracing span around one completed replication
// tick; wired as the hotness daemon's OnTick hook.
func (n *Node) onReplicationTick() {
	_, span := observability.StartReplicationSpan(context.Background())
	span.End()
}

// evictReplica is the hotness daemon's Evict hook: it flushes and frees the
// local replica for offset, if one exists. A no-op while replication is
// administratively disabled.
func (n *Node) evictReplica(offset uint64) error {
	if !n.replicationEnabled.Load() {
		return nil
	}
	meta := n.metaFor(offset)
	r, ok := meta.Snapshot().Replica.(*replica.Replica)
	if !ok || r == nil {
		return nil
	}
	n.hotness.RecordReplicaFree()
	return n.replicas.FlushReplica(r, func(data []byte) error {
		return n.writeBack(offset, data)
	})
}

// replicateHotPage is the hotness daemon's Replicate hook: it creates a
// local replica for offset from the current backing data, if one doesn't
// already exist.
func (n *Node) replicateHotPage(offset uint64) error {
	if !n.replicationEnabled.Load() {
		return nil
	}
	meta := n.metaFor(offset)
	if meta.IsReplicated() {
		return nil
	}
	if meta.IsStale() {
		if err := n.refreshStalePage(meta); err != nil {
			return err
		}
	}
	data := n.readBacking(offset)
	_, outcome, err := n.replicas.CreateReplica(meta, 0, data, meta.IsStale())
	if err != nil {
		return err
	}
	if outcome == replica.Created {
		n.hotness.RecordReplicaCreate()
		n.hotness.SetReplicaAllocated(int64(n.replicas.Allocated()))
	}
	return nil
}

// Sample feeds one resolved address-sample tuple into the hotness daemon.
func (n *Node) Sample(offset uint64, pid int32) {
	select {
	case n.hotness.Feed() <- hotness.Sample{Offset: offset, PID: pid}:
	default:
		n.log.Warnf("node: hotness sample feed full, dropping offset=0x%x", offset)
	}
}

// messageTypeForFault picks the wire message a local fault broadcasts:
// writes invalidate every other copy, reads fetch a sharable one.
func messageTypeForFault(isWrite bool) core.MessageType {
	if isWrite {
		return core.MsgInvalidate
	}
	return core.MsgFetch
}

func ackTypeFor(reqType core.MessageType) core.MessageType {
	if reqType == core.MsgInvalidate {
		return core.MsgInvalidateAck
	}
	return core.MsgFetchAck
}

func nackTypeFor(reqType core.MessageType) core.MessageType {
	if reqType == core.MsgInvalidate {
		return core.MsgInvalidateNack
	}
	return core.MsgFetchNack
}

// OnLocalFault drives one local fault on offset to completion: it resolves
// the action table entry via the fault engine, issues whatever broadcast
// transaction the action calls for and waits on its wait station, maps the
// page in (creating a replica) if required, and redrives from scratch if
// the fault engine reports a race. It returns the page data visible to the
// caller afterward.
func (n *Node) OnLocalFault(offset uint64, isWrite bool) ([]byte, error) {
	if !n.coherenceEnabled.Load() {
		return nil, coherr.New(coherr.TransportUnavailable, "coherence is disabled on this node")
	}

	_, span := observability.StartFaultSpan(context.Background(), "swmc.fault.local", offset, false)
	defer span.End()

	for {
		meta := n.metaFor(offset)
		h, attached, err := n.faults.StartLocalFault(meta, isWrite)
		if err != nil {
			if coherr.Is(err, coherr.RetryFault) {
				continue
			}
			return nil, err
		}
		if attached {
			return n.currentPageData(meta), nil
		}

		action := h.Action()

		if action.Has(fault.ActionWaitForAsyncTransaction) {
			n.asyncMu.Lock()
			pending := n.asyncPending[offset]
			n.asyncMu.Unlock()
			if pending != nil {
				pending.Wait()
			}
		}

		if action.Has(fault.ActionIssueSyncTransaction) {
			if err := n.issueSyncTransaction(offset, isWrite); err != nil {
				n.faults.FinishLocalFault(h)
				return nil, err
			}
		}
		if action.Has(fault.ActionIssueAsyncTransaction) {
			issue := n.issueAsyncTransaction
			if n.stations.AtSoftThreshold() {
				issue = n.issueSyncTransaction
			}
			if err := issue(offset, isWrite); err != nil {
				n.faults.FinishLocalFault(h)
				return nil, err
			}
		}

		if action.Has(fault.ActionUpdateMetadata) {
			if isWrite {
				meta.SetState(core.StateModified)
			} else if meta.Snapshot().State != core.StateModified {
				meta.SetState(core.StateShared)
			}
		}

		if action.Has(fault.ActionMapVPNToPFN) {
			if err := n.mapPageIn(meta); err != nil {
				n.faults.FinishLocalFault(h)
				return nil, err
			}
		}

		if isWrite {
			n.faults.IncrementLocalAcked()
			n.hotness.RecordFaultWrite()
		} else {
			n.hotness.RecordFaultRead()
		}

		retry := n.faults.FinishLocalFault(h)
		if retry {
			continue
		}
		return n.currentPageData(meta), nil
	}
}

func (n *Node) currentPageData(meta *core.PageMeta) []byte {
	if r, ok := meta.Snapshot().Replica.(*replica.Replica); ok && r != nil {
		return r.Data
	}
	return n.readBacking(meta.Offset)
}

// mapPageIn ensures a local replica exists for meta, creating one from the
// backing store (or replacing it with freshly fetched data already sitting
// there) if none is present. A replica-pool hit is recorded as a
// sysfs-style counter either way. A page caught in the S-stale combination
// is refreshed with a synchronous FETCH first: its cached data is known to
// pre-date the most recent remote write, so it must never be mapped in
// as-is.
func (n *Node) mapPageIn(meta *core.PageMeta) error {
	if meta.IsReplicated() {
		n.hotness.RecordReplicaHit()
		return nil
	}
	if meta.IsStale() {
		if err := n.refreshStalePage(meta); err != nil {
			return err
		}
	}
	data := n.readBacking(meta.Offset)
	_, outcome, err := n.replicas.CreateReplica(meta, 0, data, meta.IsStale())
	if err != nil {
		return err
	}
	if outcome == replica.Created {
		n.hotness.RecordReplicaCreate()
		n.hotness.SetReplicaAllocated(int64(n.replicas.Allocated()))
	}
	return nil
}

// refreshStalePage settles an S-stale page with a synchronous FETCH round
// trip, then clears the MODIFIED bit: once the round trip completes this
// node is caught up with the current writer, so its copy is plain SHARED
// again. Mirrors the reference's refresh discipline for a page whose
// cached data is known to be behind the last writer.
func (n *Node) refreshStalePage(meta *core.PageMeta) error {
	if err := n.issueSyncTransaction(meta.Offset, false); err != nil {
		return err
	}
	meta.SetModified(false)
	return nil
}

// issueSyncTransaction broadcasts the fault's request to every peer and
// blocks on a wait station until every peer has ACKed or any single peer
// NACKed.
func (n *Node) issueSyncTransaction(offset uint64, isWrite bool) error {
	expected := n.ops.NodeCount() - 1
	if expected <= 0 {
		return nil
	}

	st, err := n.stations.Acquire(expected)
	if err != nil {
		return err
	}
	defer n.stations.Release(st.ID())

	msgType := messageTypeForFault(isWrite)
	payload := core.MessagePayload{Offset: offset, AckedFaultCount: n.faults.LocalAcked()}
	if err := n.ops.Broadcast(msgType, st.ID(), payload); err != nil {
		return err
	}

	if n.stations.AtSoftThreshold() {
		n.log.Warnf("node: wait-station pool at soft threshold, falling back to synchronous waits")
	}

	if st.Wait() == waitstation.Nacked {
		return coherr.New(coherr.Nacked, "broadcast transaction was nacked by a peer")
	}
	return nil
}

// issueAsyncTransaction broadcasts a cold-read FETCH without waiting for
// its ACKs: the caller proceeds to map the page in immediately from
// whatever data is already available, and the station is left pinned in
// asyncPending so a later ActionWaitForAsyncTransaction fault on the same
// offset can rendezvous with it. asyncCompletionLoop drains and releases
// the station once every ACK/NACK has arrived.
func (n *Node) issueAsyncTransaction(offset uint64, isWrite bool) error {
	expected := n.ops.NodeCount() - 1
	if expected <= 0 {
		return nil
	}

	st, err := n.stations.Acquire(expected)
	if err != nil {
		return err
	}
	st.Async = true
	st.Private = offset

	n.asyncMu.Lock()
	n.asyncPending[offset] = st
	n.asyncMu.Unlock()

	msgType := messageTypeForFault(isWrite)
	payload := core.MessagePayload{Offset: offset, AckedFaultCount: n.faults.LocalAcked()}
	if err := n.ops.Broadcast(msgType, st.ID(), payload); err != nil {
		n.asyncMu.Lock()
		if n.asyncPending[offset] == st {
			delete(n.asyncPending, offset)
		}
		n.asyncMu.Unlock()
		n.stations.Release(st.ID())
		return err
	}
	return nil
}

// receiveLoop drains the inbound transport round-robin until Stop, handling
// each message and then yielding the scheduler when nothing was ready, the
// same discipline the simulated ring's Poll expects from a busy-poller.
func (n *Node) receiveLoop() {
	for {
		select {
		case <-n.stop:
			return
		default:
		}

		msg, from, ok := n.ops.PollInbound()
		if !ok {
			runtime.Gosched()
			continue
		}
		n.handleMessage(msg, from)
	}
}

// handleMessage dispatches one inbound message: ACK/NACK types complete a
// wait station directly, and request types (FETCH/INVALIDATE) drive a
// remote fault through the fault engine.
func (n *Node) handleMessage(msg core.Message, from core.NodeID) {
	switch msg.Header.Type {
	case core.MsgFetchAck, core.MsgInvalidateAck:
		n.stations.DeliverAck(msg.Header.WaitStation)
		n.ops.Done(msg)
		return
	case core.MsgFetchNack, core.MsgInvalidateNack:
		n.stations.DeliverNack(msg.Header.WaitStation)
		n.ops.Done(msg)
		return
	case core.MsgError:
		n.log.Warnf("node: received MsgError from node %d for offset=0x%x", from, msg.Payload.Offset)
		n.ops.Done(msg)
		return
	}

	n.handleRemoteRequest(msg, from)
	n.ops.Done(msg)
}

func (n *Node) handleRemoteRequest(msg core.Message, from core.NodeID) {
	isWrite := msg.Header.Type == core.MsgInvalidate
	offset := msg.Payload.Offset
	meta := n.metaFor(offset)

	_, span := observability.StartFaultSpan(context.Background(), "swmc.fault.remote", offset, true)
	defer span.End()

	h, ack := n.faults.StartRemoteFault(meta, isWrite, msg.Payload.AckedFaultCount, from, n.id)
	if !ack {
		if err := n.ops.Unicast(nackTypeFor(msg.Header.Type), msg.Header.WaitStation, from, core.MessagePayload{Offset: offset}); err != nil {
			n.log.Warnf("node: failed to send nack to node %d: %v", from, err)
		}
		return
	}

	action := h.Action()
	if action == fault.ActionInvalid {
		n.log.Errorf("node: remote request for offset=0x%x hit an invalid action table cell (%s); acking best-effort", offset, coherr.InvariantViolation)
		action = fault.ActionRespond
	}

	if action.Has(fault.ActionWriteback) {
		if r, ok := meta.Snapshot().Replica.(*replica.Replica); ok && r != nil {
			if err := n.replicas.FlushReplica(r, func(data []byte) error {
				return n.writeBack(offset, data)
			}); err != nil {
				n.log.Warnf("node: writeback for offset=0x%x failed: %v", offset, err)
			}
		}
	}

	if action.Has(fault.ActionInvalidate) {
		if r, ok := meta.Snapshot().Replica.(*replica.Replica); ok && r != nil {
			n.replicas.FlushReplica(r, nil)
		}
		meta.SetState(core.StateInvalid)
	} else if action.Has(fault.ActionUpdateMetadata) {
		// A remote FETCH against our Modified page (table cells 18/26)
		// downgrades us: the requester now holds its own copy too, so ours
		// is no longer exclusive. The writeback above already settled the
		// data, so we step down to plain Shared.
		meta.SetShared(true)
		meta.SetModified(false)
	}

	if action.Has(fault.ActionRespond) {
		if err := n.ops.Unicast(ackTypeFor(msg.Header.Type), msg.Header.WaitStation, from, core.MessagePayload{Offset: offset}); err != nil {
			n.log.Warnf("node: failed to send ack to node %d: %v", from, err)
		}
	}

	n.faults.FinishRemoteFault(h)
}
