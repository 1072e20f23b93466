package config

// Profile names a predefined NodeConfig, the way the original simulator
// shipped named SOC network configurations for quick startup.
type Profile struct {
	Name        string
	Description string
	Build       func(nodeID int32, peers map[int32]string) *NodeConfig
}

// PredefinedProfiles returns every named profile available to the CLI's
// -profile flag.
func PredefinedProfiles() []Profile {
	return []Profile{
		{
			Name:        "three-node-default",
			Description: "Three-node domain, 60s replication interval, top-20% hotness threshold",
			Build: func(nodeID int32, peers map[int32]string) *NodeConfig {
				cfg := DefaultNodeConfig()
				cfg.NodeID = nodeID
				cfg.Peers = peers
				return cfg
			},
		},
		{
			Name:        "aggressive-replication",
			Description: "Short sampling interval and looser hotness threshold, for interactive demos",
			Build: func(nodeID int32, peers map[int32]string) *NodeConfig {
				cfg := DefaultNodeConfig()
				cfg.NodeID = nodeID
				cfg.Peers = peers
				cfg.SamplingIntervalSecs = 5
				cfg.HotPagePercent = 40
				return cfg
			},
		},
		{
			Name:        "small-ring",
			Description: "Small ring capacity for exercising Dropped/backpressure paths in tests",
			Build: func(nodeID int32, peers map[int32]string) *NodeConfig {
				cfg := DefaultNodeConfig()
				cfg.NodeID = nodeID
				cfg.Peers = peers
				cfg.RingSlots = 4
				return cfg
			},
		},
	}
}

// ByName looks up a predefined profile by name, returning nil if absent.
func ByName(name string) *Profile {
	for _, p := range PredefinedProfiles() {
		if p.Name == name {
			return &p
		}
	}
	return nil
}
