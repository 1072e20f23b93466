// Package control provides the HTTP control surface and event feed for a
// running coherence node: enable/disable the coherence domain, start/stop
// replication, force a replica flush, inspect and reset sysfs-style
// counters, scrape Prometheus metrics, and stream live events over a
// websocket, adapted from the simulator's web control/frame server.
package control

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/swmc-coherence/hotness"
	"github.com/example/swmc-coherence/internal/corelog"
	"github.com/example/swmc-coherence/observability"
)

// Node is the subset of node orchestration the control surface drives.
// The orchestrator implements it; control only ever sees this interface so
// its tests can stub it out directly.
type Node interface {
	SetCoherenceEnabled(v bool)
	CoherenceEnabled() bool
	SetReplicationEnabled(v bool)
	ReplicationEnabled() bool
	FlushAllReplicas() error
	Stats() hotness.Stats
	ResetStats()
}

// Event is one entry pushed to every connected websocket client: a
// coherence-domain state transition, fault, or replication decision worth
// surfacing live, mirroring the simulator's per-cycle frame broadcast.
type Event struct {
	Kind   string `json:"kind"`
	Offset uint64 `json:"offset,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Server is the HTTP+websocket control surface for one coherence node.
type Server struct {
	node    Node
	metrics *observability.Metrics
	log     *corelog.Logger

	hub    *eventHub
	server *http.Server
}

// NewServer builds a control server bound to addr, wiring node's lifecycle
// controls and metrics' Prometheus registry onto /metrics.
func NewServer(addr string, node Node, metrics *observability.Metrics, reg *prometheus.Registry, log *corelog.Logger) *Server {
	if log == nil {
		log = corelog.Default()
	}
	s := &Server{
		node:    node,
		metrics: metrics,
		log:     log,
		hub:     newEventHub(log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/coherence/enable", s.handleCoherenceEnable)
	mux.HandleFunc("/api/coherence/disable", s.handleCoherenceDisable)
	mux.HandleFunc("/api/replication/start", s.handleReplicationStart)
	mux.HandleFunc("/api/replication/stop", s.handleReplicationStop)
	mux.HandleFunc("/api/replicas/flush", s.handleReplicasFlush)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/stats/reset", s.handleStatsReset)
	mux.HandleFunc("/ws/events", s.hub.handle)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the HTTP server in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("control: server exited: %v", err)
		}
	}()
	return nil
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	return s.server.Close()
}

// Broadcast pushes an event to every connected websocket client. Safe to
// call from any goroutine, including the fault engine's hot path; when the
// hub's event queue is full the event is dropped rather than blocking the
// sender.
func (s *Server) Broadcast(ev Event) {
	s.hub.broadcast(ev)
}

func (s *Server) handleCoherenceEnable(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.node.SetCoherenceEnabled(true)
	s.hub.broadcast(Event{Kind: "coherence.enabled"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCoherenceDisable(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.node.SetCoherenceEnabled(false)
	s.hub.broadcast(Event{Kind: "coherence.disabled"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReplicationStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.node.SetReplicationEnabled(true)
	s.hub.broadcast(Event{Kind: "replication.started"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReplicationStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.node.SetReplicationEnabled(false)
	s.hub.broadcast(Event{Kind: "replication.stopped"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReplicasFlush(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.node.FlushAllReplicas(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.broadcast(Event{Kind: "replicas.flushed"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.node.Stats()
	if s.metrics != nil {
		// Piggyback the scrape-independent poll on whoever's already asking
		// for stats, so /metrics reflects this read even between node's own
		// periodic sync ticks.
		s.metrics.ObserveHotnessStats(stats)
	}
	writeJSON(w, stats)
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.node.ResetStats()
	w.WriteHeader(http.StatusOK)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// eventHub fans Event values out to every connected websocket client,
// grounded on the simulator's frame-broadcast hub.
type eventHub struct {
	log      *corelog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	register chan *websocket.Conn
	remove   chan *websocket.Conn
	events   chan Event
}

func newEventHub(log *corelog.Logger) *eventHub {
	h := &eventHub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]bool),
		register: make(chan *websocket.Conn),
		remove:   make(chan *websocket.Conn),
		events:   make(chan Event, 64),
	}
	go h.run()
	return h
}

func (h *eventHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.remove:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case ev := <-h.events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Errorf("control: failed to marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.log.Warnf("control: dropping websocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *eventHub) broadcast(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warnf("control: event queue full, dropping %s", ev.Kind)
	}
}

func (h *eventHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("control: websocket upgrade failed: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.remove <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
