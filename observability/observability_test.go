package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/example/swmc-coherence/hotness"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestNewMetricsRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 1)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestObserveHotnessStatsOnlyAddsTheDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 1)

	m.ObserveHotnessStats(hotness.Stats{FaultReadCount: 5, ReplicaAllocatedCount: 3})
	require.Equal(t, float64(5), counterValue(t, m.faultReads))
	require.Equal(t, float64(3), gaugeValue(t, m.replicaAllocated))

	m.ObserveHotnessStats(hotness.Stats{FaultReadCount: 9, ReplicaAllocatedCount: 1})
	require.Equal(t, float64(9), counterValue(t, m.faultReads))
	require.Equal(t, float64(1), gaugeValue(t, m.replicaAllocated))
}

func TestObserveHotnessStatsIgnoresResetGoingBackwards(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 1)

	m.ObserveHotnessStats(hotness.Stats{FaultReadCount: 10})
	require.Equal(t, float64(10), counterValue(t, m.faultReads))

	// A ResetStats on the daemon side must not decrement the Prometheus
	// counter; the lower total adds nothing and becomes the baseline that
	// later observations are measured against.
	m.ObserveHotnessStats(hotness.Stats{FaultReadCount: 0})
	require.Equal(t, float64(10), counterValue(t, m.faultReads))
}

func TestObserveRingDepthLabelsByDirectionAndPeer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 2)

	m.ObserveRingDepth("out", "1", 4)
	require.Equal(t, float64(4), gaugeValue(t, m.ringDepth.WithLabelValues("out", "1")))
}

func TestObserveWaitStations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 0)

	m.ObserveWaitStations(42)
	require.Equal(t, float64(42), gaugeValue(t, m.stationsAt))
}
