// Command swmcnode starts one coherence domain participant: it opens the
// simulated shared window for the configured peer set, wires the fault
// engine/replica pool/hotness daemon together, and serves the HTTP control
// and metrics surface until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/example/swmc-coherence/config"
	"github.com/example/swmc-coherence/control"
	"github.com/example/swmc-coherence/core"
	"github.com/example/swmc-coherence/internal/corelog"
	"github.com/example/swmc-coherence/node"
	"github.com/example/swmc-coherence/simwindow"
	"github.com/example/swmc-coherence/transport"
)

func main() {
	var (
		nodeID     = flag.Int("node-id", 0, "this node's id within the domain")
		peersFlag  = flag.String("peers", "", "comma-separated id=addr peer list, e.g. 1=10.0.0.1:7421,2=10.0.0.2:7421")
		profile    = flag.String("profile", "", "predefined profile name (overrides ring/sampling/hotness defaults)")
		listenAddr = flag.String("listen", "", "HTTP control/metrics listen address (overrides profile default)")
		ringSlots  = flag.Int("ring-slots", 0, "override ring slot capacity (must be a power of two)")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	log := corelog.New(corelog.LevelInfo, fmt.Sprintf("[swmc node=%d] ", *nodeID))
	if *verbose {
		log.SetLevel(corelog.LevelDebug)
	}

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		log.Errorf("invalid -peers: %v", err)
		os.Exit(1)
	}

	cfg := buildConfig(*nodeID, peers, *profile)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *ringSlots != 0 {
		cfg.RingSlots = *ringSlots
	}

	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	arena, err := simwindow.NewArena(cfg.NodeCount(), cfg.RingSlots, 0)
	if err != nil {
		log.Errorf("failed to allocate simulated shared window: %v", err)
		os.Exit(1)
	}

	ops, err := transport.NewSimOps(core.NodeID(cfg.NodeID), arena, nil)
	if err != nil {
		log.Errorf("failed to open transport: %v", err)
		os.Exit(1)
	}

	n := node.New(cfg, ops, log)
	n.Run()
	defer n.Stop()

	srv := control.NewServer(cfg.ListenAddr, n, n.Metrics(), n.Registry(), log)
	if err := srv.Start(); err != nil {
		log.Errorf("failed to start control server: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	log.Infof("node %d listening on %s, domain size %d", cfg.NodeID, cfg.ListenAddr, cfg.NodeCount())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Infof("shutting down")
}

func buildConfig(nodeID int, peers map[int32]string, profileName string) *config.NodeConfig {
	if profileName != "" {
		if p := config.ByName(profileName); p != nil {
			return p.Build(int32(nodeID), peers)
		}
	}
	cfg := config.DefaultNodeConfig()
	cfg.NodeID = int32(nodeID)
	cfg.Peers = peers
	return cfg
}

// parsePeers parses "id=addr,id=addr,..." into the map config.NodeConfig expects.
func parsePeers(s string) (map[int32]string, error) {
	peers := map[int32]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed peer entry %q, want id=addr", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed peer id in %q: %w", entry, err)
		}
		peers[int32(id)] = strings.TrimSpace(parts[1])
	}
	return peers, nil
}
