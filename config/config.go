// Package config holds the coherence node's startup configuration: node
// identity, peer addresses, ring sizing, and the replication daemon's
// default tuning. Values are either loaded from flags or pulled from one of
// the named predefined profiles.
package config

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Defaults mirrored from the spec's wire layout and tuning knobs.
const (
	DefaultRingSlots              = 65536
	DefaultSamplingIntervalSecs   = 60
	DefaultHotPagePercent         = 20
	DefaultWaitStationPoolOrder   = 16 // 2^16 = 64K ids
	DefaultWaitStationSoftPercent = 80
)

// NodeConfig describes one coherence node's identity and tuning.
type NodeConfig struct {
	NodeID int32
	// Peers lists every other node id and its transport address, keyed by id.
	Peers map[int32]string

	RingSlots int // must be a power of two

	SamplingIntervalSecs int
	HotPagePercent       int

	ListenAddr string // HTTP control/observability listen address
}

// DefaultNodeConfig returns a single-node-friendly baseline; callers
// override NodeID/Peers/ListenAddr for their deployment.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		NodeID:               0,
		Peers:                map[int32]string{},
		RingSlots:            DefaultRingSlots,
		SamplingIntervalSecs: DefaultSamplingIntervalSecs,
		HotPagePercent:       DefaultHotPagePercent,
		ListenAddr:           "127.0.0.1:7421",
	}
}

// Validate applies structural checks and reports every violation found
// (rather than failing fast on the first), matching how an operator would
// want a single pass over a deploy-time config dump.
func (c *NodeConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	var result *multierror.Error
	if c.RingSlots <= 0 || c.RingSlots&(c.RingSlots-1) != 0 {
		result = multierror.Append(result, fmt.Errorf("RingSlots must be a power of two, got %d", c.RingSlots))
	}
	if c.SamplingIntervalSecs <= 0 {
		result = multierror.Append(result, fmt.Errorf("SamplingIntervalSecs must be positive, got %d", c.SamplingIntervalSecs))
	}
	if c.HotPagePercent < 0 || c.HotPagePercent > 100 {
		result = multierror.Append(result, fmt.Errorf("HotPagePercent must be within [0,100], got %d", c.HotPagePercent))
	}
	if c.ListenAddr == "" {
		result = multierror.Append(result, fmt.Errorf("ListenAddr must not be empty"))
	}
	for id := range c.Peers {
		if id == c.NodeID {
			result = multierror.Append(result, fmt.Errorf("Peers must not contain this node's own id %d", id))
		}
	}

	return result.ErrorOrNil()
}

// NodeCount returns the total number of nodes in the domain (self + peers).
func (c *NodeConfig) NodeCount() int {
	return len(c.Peers) + 1
}
