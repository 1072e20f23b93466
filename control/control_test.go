package control

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/example/swmc-coherence/hotness"
	"github.com/example/swmc-coherence/observability"
)

// fakeNode is a test double implementing Node without pulling in the real
// orchestrator package.
type fakeNode struct {
	mu                 sync.Mutex
	coherenceEnabled   bool
	replicationEnabled bool
	flushCalled        bool
	flushErr           error
	stats              hotness.Stats
	resetCalled        bool
}

func (f *fakeNode) SetCoherenceEnabled(v bool) { f.mu.Lock(); f.coherenceEnabled = v; f.mu.Unlock() }
func (f *fakeNode) CoherenceEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coherenceEnabled
}
func (f *fakeNode) SetReplicationEnabled(v bool) {
	f.mu.Lock()
	f.replicationEnabled = v
	f.mu.Unlock()
}
func (f *fakeNode) ReplicationEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replicationEnabled
}
func (f *fakeNode) FlushAllReplicas() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalled = true
	return f.flushErr
}
func (f *fakeNode) Stats() hotness.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
func (f *fakeNode) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalled = true
}

func newTestServer(t *testing.T, node *fakeNode) (*Server, *httptest.Server) {
	s, hs, _ := newTestServerWithRegistry(t, node)
	return s, hs
}

func newTestServerWithRegistry(t *testing.T, node *fakeNode) (*Server, *httptest.Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, 1)
	s := NewServer("", node, metrics, reg, nil)
	hs := httptest.NewServer(s.server.Handler)
	t.Cleanup(hs.Close)
	return s, hs, reg
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, m := range fam.Metric {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		return total
	}
	return 0
}

func TestEnableDisableCoherence(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Post(hs.URL+"/api/coherence/enable", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, node.CoherenceEnabled())

	resp, err = http.Post(hs.URL+"/api/coherence/disable", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, node.CoherenceEnabled())
}

func TestStartStopReplication(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Post(hs.URL+"/api/replication/start", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, node.ReplicationEnabled())

	resp, err = http.Post(hs.URL+"/api/replication/stop", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, node.ReplicationEnabled())
}

func TestFlushReplicasCallsNode(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Post(hs.URL+"/api/replicas/flush", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, node.flushCalled)
}

func TestFlushReplicasPropagatesError(t *testing.T) {
	node := &fakeNode{flushErr: errors.New("write-back failed")}
	_, hs := newTestServer(t, node)

	resp, err := http.Post(hs.URL+"/api/replicas/flush", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.True(t, node.flushCalled)
}

func TestStatsReturnsJSON(t *testing.T) {
	node := &fakeNode{stats: hotness.Stats{FaultReadCount: 7}}
	_, hs := newTestServer(t, node)

	resp, err := http.Get(hs.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestStatsResetCallsNode(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Post(hs.URL+"/api/stats/reset", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, node.resetCalled)
}

func TestStatsEndpointSyncsMetricsGauges(t *testing.T) {
	node := &fakeNode{stats: hotness.Stats{FaultReadCount: 3, FaultWriteCount: 2}}
	_, hs, reg := newTestServerWithRegistry(t, node)

	resp, err := http.Get(hs.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, float64(3), gatherCounter(t, reg, "swmc_fault_read_total"))
	require.Equal(t, float64(2), gatherCounter(t, reg, "swmc_fault_write_total"))

	node.mu.Lock()
	node.stats.FaultReadCount = 5
	node.mu.Unlock()

	resp, err = http.Get(hs.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, float64(5), gatherCounter(t, reg, "swmc_fault_read_total"))
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetMethodRejectedOnControlEndpoints(t *testing.T) {
	node := &fakeNode{}
	_, hs := newTestServer(t, node)

	resp, err := http.Get(hs.URL + "/api/coherence/enable")
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebsocketReceivesBroadcastEvent(t *testing.T) {
	node := &fakeNode{}
	s, hs := newTestServer(t, node)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the new client before broadcasting.
	time.Sleep(50 * time.Millisecond)
	s.Broadcast(Event{Kind: "test.event", Offset: 0x42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "test.event")
}
