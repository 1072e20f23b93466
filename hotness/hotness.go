// Package hotness implements the hotness sampler and replication daemon:
// ingesting an address-sampling feed into a per-page aged access count,
// maintaining the 32-bucket histogram that access count feeds, and running
// the periodic replication-interval tick that evicts cold pages and
// replicates hot ones.
package hotness

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/swmc-coherence/core"
	"github.com/example/swmc-coherence/internal/corelog"
)

// Sample is one resolved tuple from the address-sampling feed: a
// shared-window offset (the mapping layer has already resolved the raw
// virtual address to it) and the sampling pid, kept for observability.
type Sample struct {
	Offset uint64
	PID    int32
}

// DefaultHotPercent is the default top-P% hotness threshold.
const DefaultHotPercent = 20

// DefaultInterval is the default replication tick period.
const DefaultInterval = 60 * time.Second

type trackedPage struct {
	offset      uint64
	accessCount uint32
	lastAge     uint16
	replicated  bool
	candidate   bool // fed by sampling, awaiting a replication decision
}

// Daemon owns the per-page aged access counts, the hotness histogram, and
// the periodic tick that decides what to evict and what to replicate. The
// actual eviction/replication side effects are delegated to the three hook
// functions so this package stays independent of the replica pool's
// concrete type.
type Daemon struct {
	mu      sync.Mutex
	tracked map[uint64]*trackedPage
	hist    core.Histogram
	age     uint16

	threshold  int // current hotness threshold: MSB index cutoff
	hotPercent int
	interval   time.Duration

	enabled atomic.Bool
	limiter *rate.Limiter
	feed    chan Sample

	log *corelog.Logger

	stop chan struct{}
	done chan struct{}

	// Hooks the node orchestrator wires to the replica pool. Evict is
	// called with every offset whose MSB index fell below threshold;
	// Replicate is called with every sampled, not-yet-replicated
	// candidate. IsReplicated reports current replication state. OnTick,
	// if set, is called once every completed Tick pass (e.g. to open a
	// tracing span around it); it is never required for correctness.
	Evict        func(offset uint64) error
	Replicate    func(offset uint64) error
	IsReplicated func(offset uint64) bool
	OnTick       func()

	statFaultRead, statFaultWrite       atomic.Int64
	statReplicaHit, statReplicaCreate   atomic.Int64
	statReplicaFree, statReplicaAllocd  atomic.Int64
}

// NewDaemon constructs a daemon with the given tick interval, hotness
// percentile, and ingestion rate limit (samples/sec, with a small burst; a
// limit of zero or less drops every sample).
func NewDaemon(interval time.Duration, hotPercent int, sampleRateLimit float64, log *corelog.Logger) *Daemon {
	if log == nil {
		log = corelog.Default()
	}
	burst := int(sampleRateLimit) + 1
	if sampleRateLimit <= 0 {
		burst = 0
	}
	d := &Daemon{
		tracked:    make(map[uint64]*trackedPage),
		interval:   interval,
		hotPercent: hotPercent,
		limiter:    rate.NewLimiter(rate.Limit(sampleRateLimit), burst),
		feed:       make(chan Sample, 4096),
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.enabled.Store(true)
	return d
}

// SetEnabled toggles whether the sampling feed is drained at all, mirroring
// the "page coherence enabled" control flag the mapping layer checks.
func (d *Daemon) SetEnabled(v bool) { d.enabled.Store(v) }

// Enabled reports the current coherence-enabled flag.
func (d *Daemon) Enabled() bool { return d.enabled.Load() }

// Feed returns the channel samples are pushed onto. The daemon's ingestion
// loop drains it through the rate limiter; a full channel means the
// producer must either block or drop (producer's choice).
func (d *Daemon) Feed() chan<- Sample { return d.feed }

// RecordFaultRead/RecordFaultWrite/RecordReplicaHit/RecordReplicaCreate/
// RecordReplicaFree/SetReplicaAllocated update the sysfs-style counters the
// fault engine and replica pool report into.
func (d *Daemon) RecordFaultRead()     { d.statFaultRead.Add(1) }
func (d *Daemon) RecordFaultWrite()    { d.statFaultWrite.Add(1) }
func (d *Daemon) RecordReplicaHit()    { d.statReplicaHit.Add(1) }
func (d *Daemon) RecordReplicaCreate() { d.statReplicaCreate.Add(1) }
func (d *Daemon) RecordReplicaFree()   { d.statReplicaFree.Add(1) }
func (d *Daemon) SetReplicaAllocated(n int64) { d.statReplicaAllocd.Store(n) }

// Stats is a point-in-time snapshot of the sysfs-style counters.
type Stats struct {
	FaultReadCount, FaultWriteCount         int64
	ReplicaHitCount, ReplicaCreateCount     int64
	ReplicaFreeCount, ReplicaAllocatedCount int64
	ReplicationCandidates                   int
	HotnessThreshold                        int
}

// Snapshot returns the current counters and derived state.
func (d *Daemon) Snapshot() Stats {
	d.mu.Lock()
	candidates := 0
	for _, tp := range d.tracked {
		if tp.candidate {
			candidates++
		}
	}
	threshold := d.threshold
	d.mu.Unlock()

	return Stats{
		FaultReadCount:         d.statFaultRead.Load(),
		FaultWriteCount:        d.statFaultWrite.Load(),
		ReplicaHitCount:        d.statReplicaHit.Load(),
		ReplicaCreateCount:     d.statReplicaCreate.Load(),
		ReplicaFreeCount:       d.statReplicaFree.Load(),
		ReplicaAllocatedCount:  d.statReplicaAllocd.Load(),
		ReplicationCandidates:  candidates,
		HotnessThreshold:       threshold,
	}
}

// ResetStats zeroes every sysfs-style counter.
func (d *Daemon) ResetStats() {
	d.statFaultRead.Store(0)
	d.statFaultWrite.Store(0)
	d.statReplicaHit.Store(0)
	d.statReplicaCreate.Store(0)
	d.statReplicaFree.Store(0)
	d.statReplicaAllocd.Store(0)
}

// Ingest processes one sample synchronously: decays the page's access
// count by the age delta since it was last touched, increments it, bumps
// last-accessed age to the daemon's current monitoring age, marks the page
// a replication candidate, and moves its histogram bucket if its MSB index
// changed. Samples arriving while disabled, or beyond the rate limit, are
// dropped.
func (d *Daemon) Ingest(s Sample) {
	if !d.enabled.Load() || !d.limiter.Allow() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tp, existed := d.tracked[s.Offset]
	if !existed {
		tp = &trackedPage{offset: s.Offset}
		d.tracked[s.Offset] = tp
	}

	ageDelta := d.age - tp.lastAge
	oldCount := tp.accessCount
	decayed := decayCount(tp.accessCount, ageDelta)

	newCount := decayed + 1
	tp.accessCount = newCount
	tp.lastAge = d.age
	tp.candidate = true

	if existed {
		d.hist.Move(oldCount, newCount)
	} else {
		d.hist.Add(newCount)
	}
}

func decayCount(v uint32, ageDelta uint16) uint32 {
	if ageDelta == 0 {
		return v
	}
	if ageDelta >= 32 {
		return 0
	}
	return v >> ageDelta
}

// Tick runs one replication interval pass: evict pages that cooled below
// the hotness threshold, replicate sampled candidates that aren't already
// replicated, advance the monitoring age, recompute the threshold from the
// histogram's top hotPercent%, then halve every bucket to cool the signal.
func (d *Daemon) Tick() {
	d.mu.Lock()
	threshold := d.threshold
	var toEvict, toReplicate []uint64
	for offset, tp := range d.tracked {
		if tp.replicated && core.MSBIndex(tp.accessCount) < threshold {
			toEvict = append(toEvict, offset)
		}
		if tp.candidate && !tp.replicated {
			toReplicate = append(toReplicate, offset)
		}
	}
	d.mu.Unlock()

	for _, offset := range toEvict {
		if d.Evict == nil {
			break
		}
		if err := d.Evict(offset); err != nil {
			d.log.Warnf("hotness: evict offset=0x%x failed: %v", offset, err)
			continue
		}
		d.mu.Lock()
		if tp, ok := d.tracked[offset]; ok {
			tp.replicated = false
		}
		d.mu.Unlock()
	}

	for _, offset := range toReplicate {
		if d.Replicate == nil {
			break
		}
		if err := d.Replicate(offset); err != nil {
			d.log.Warnf("hotness: replicate offset=0x%x failed: %v", offset, err)
			continue
		}
		d.mu.Lock()
		if tp, ok := d.tracked[offset]; ok {
			tp.replicated = true
			tp.candidate = false
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.age++
	d.threshold = d.hist.PercentileThreshold(d.hotPercent)
	d.hist.Halve()
	d.mu.Unlock()

	if d.OnTick != nil {
		d.OnTick()
	}
}

// Threshold returns the current hotness threshold (MSB index cutoff).
func (d *Daemon) Threshold() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Run drains the sampling feed through the rate limiter and fires Tick
// every interval, until Stop is called. It is meant to run in its own
// goroutine, matching the spec's long-lived hotness daemon task.
func (d *Daemon) Run() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case s := <-d.feed:
			d.Ingest(s)
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.done
}
