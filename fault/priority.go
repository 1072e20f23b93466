package fault

import "github.com/example/swmc-coherence/core"

// hasLowerPriority reports whether an incoming remote request has lower
// priority than the local in-progress fault described by localFlags, and so
// should be NACKed rather than allowed to proceed or force a local retry.
//
// Rules, ported from the reference priority tie-break:
//   - A remote READ never outranks a local WRITE.
//   - Two WRITEs compare acked-fault-count first (lower count wins, since a
//     lower count means the node is further behind and should catch up
//     first); equal counts fall back to node id (lower id wins).
//   - Every other combination favors the remote request.
func hasLowerPriority(localFlags Flags, remoteIsWrite bool, remoteAcked int64, remoteNode, localNode core.NodeID, localAcked int64) bool {
	localIsWrite := localFlags.has(FlagNeedWrite)

	if !remoteIsWrite && localIsWrite {
		return true
	}

	if remoteIsWrite && localIsWrite {
		if remoteAcked < localAcked {
			return false
		}
		if remoteAcked > localAcked {
			return true
		}
		return localNode < remoteNode
	}

	return false
}
