// Package observability exposes the coherence engine's sysfs-style counters
// as a scrape-able Prometheus surface and instruments the fault/replication
// hot paths with OpenCensus trace spans, adapted from the simulator's web
// frame/stats reporting into a real metrics-and-tracing stack.
package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/trace"

	"github.com/example/swmc-coherence/hotness"
)

// Metrics owns the Prometheus collectors the coherence engine reports into.
// It is registered against a caller-supplied registry so multiple node
// instances in the same process (as in tests) don't collide on the default
// global registry.
type Metrics struct {
	reg *prometheus.Registry

	faultReads, faultWrites prometheus.Counter
	replicaHits             prometheus.Counter
	replicaCreates          prometheus.Counter
	replicaFrees            prometheus.Counter
	replicaAllocated        prometheus.Gauge
	replicationCandidates   prometheus.Gauge
	hotnessThreshold        prometheus.Gauge

	ringDepth  *prometheus.GaugeVec
	stationsAt prometheus.Gauge

	counterMu   sync.Mutex
	counterLast map[prometheus.Counter]int64
}

// NewMetrics constructs and registers every collector against reg. nodeID
// becomes the "node" label on every metric so a multi-node deployment can be
// scraped through a single federated endpoint.
func NewMetrics(reg *prometheus.Registry, nodeID int32) *Metrics {
	labels := prometheus.Labels{"node": itoa(nodeID)}

	m := &Metrics{
		reg: reg,
		faultReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swmc_fault_read_total",
			Help:        "Total local read faults handled by the fault engine.",
			ConstLabels: labels,
		}),
		faultWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swmc_fault_write_total",
			Help:        "Total local write faults handled by the fault engine.",
			ConstLabels: labels,
		}),
		replicaHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swmc_replica_hit_total",
			Help:        "Total faults served by an already-resident replica.",
			ConstLabels: labels,
		}),
		replicaCreates: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swmc_replica_create_total",
			Help:        "Total replica pages created.",
			ConstLabels: labels,
		}),
		replicaFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swmc_replica_free_total",
			Help:        "Total replica pages reclaimed.",
			ConstLabels: labels,
		}),
		replicaAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swmc_replica_allocated_pages",
			Help:        "Replica pages currently allocated.",
			ConstLabels: labels,
		}),
		replicationCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swmc_replication_candidates",
			Help:        "Pages sampled as replication candidates awaiting the next tick.",
			ConstLabels: labels,
		}),
		hotnessThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swmc_hotness_threshold",
			Help:        "Current hotness histogram MSB-index cutoff.",
			ConstLabels: labels,
		}),
		ringDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "swmc_ring_depth",
			Help:        "Current occupied slot count of a messaging ring.",
			ConstLabels: labels,
		}, []string{"direction", "peer"}),
		stationsAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swmc_waitstation_occupied",
			Help:        "Wait stations currently allocated out of the 65536-entry pool.",
			ConstLabels: labels,
		}),
		counterLast: make(map[prometheus.Counter]int64),
	}

	reg.MustRegister(
		m.faultReads, m.faultWrites, m.replicaHits, m.replicaCreates, m.replicaFrees,
		m.replicaAllocated, m.replicationCandidates, m.hotnessThreshold,
		m.ringDepth, m.stationsAt,
	)
	return m
}

// ObserveHotnessStats copies a hotness.Stats snapshot onto the corresponding
// collectors. hotness.Daemon owns cumulative totals, so each counter is
// advanced by the rise since the previous call (see addCounter); a total
// that went down after ResetStats adds nothing and becomes the new baseline.
func (m *Metrics) ObserveHotnessStats(s hotness.Stats) {
	m.addCounter(m.faultReads, s.FaultReadCount)
	m.addCounter(m.faultWrites, s.FaultWriteCount)
	m.addCounter(m.replicaHits, s.ReplicaHitCount)
	m.addCounter(m.replicaCreates, s.ReplicaCreateCount)
	m.addCounter(m.replicaFrees, s.ReplicaFreeCount)
	m.replicaAllocated.Set(float64(s.ReplicaAllocatedCount))
	m.replicationCandidates.Set(float64(s.ReplicationCandidates))
	m.hotnessThreshold.Set(float64(s.HotnessThreshold))
}

// ObserveRingDepth records one messaging ring's occupancy, labeled by
// direction ("in"/"out") and peer node id.
func (m *Metrics) ObserveRingDepth(direction, peer string, depth int) {
	m.ringDepth.WithLabelValues(direction, peer).Set(float64(depth))
}

// ObserveWaitStations records the wait-station registry's current occupancy.
func (m *Metrics) ObserveWaitStations(n int) {
	m.stationsAt.Set(float64(n))
}

// addCounter tracks the last cumulative value passed per collector so
// repeated ObserveHotnessStats calls only add the delta, keeping Prometheus
// counter semantics (monotonic Add) correct against hotness.Daemon's own
// monotonic int64 totals.
func (m *Metrics) addCounter(c prometheus.Counter, total int64) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	prev := m.counterLast[c]
	if delta := total - prev; delta > 0 {
		c.Add(float64(delta))
	}
	m.counterLast[c] = total
}

// StartFaultSpan opens an OpenCensus span around one fault-handling pass,
// tagging it with the offset and whether it originated locally or remotely.
func StartFaultSpan(ctx context.Context, name string, offset uint64, remote bool) (context.Context, *trace.Span) {
	ctx, span := trace.StartSpan(ctx, name)
	span.AddAttributes(
		trace.Int64Attribute("offset", int64(offset)),
		trace.BoolAttribute("remote", remote),
	)
	return ctx, span
}

// StartReplicationSpan opens an OpenCensus span around one replication-tick
// pass; the span carries no attributes.
func StartReplicationSpan(ctx context.Context) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, "swmc.replication.tick")
}

func itoa(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
