package fault

// Action is the set of steps a fault handler must perform, selected by the
// current Flags via actionTable.
type Action uint16

const (
	ActionInvalid Action = 0

	ActionUpdateMetadata Action = 1 << 0

	// Local-fault actions.
	ActionIssueSyncTransaction    Action = 1 << 1
	ActionIssueAsyncTransaction   Action = 1 << 2
	ActionWaitForAsyncTransaction Action = 1 << 3
	ActionMapVPNToPFN             Action = 1 << 4

	// Remote-fault actions.
	ActionWriteback  Action = 1 << 5
	ActionInvalidate Action = 1 << 6
	ActionRespond    Action = 1 << 7
)

// Has reports whether a contains every bit in want.
func (a Action) Has(want Action) bool { return a&want == want }

// actionTable is carried bit-for-bit from the reference implementation's
// 32-entry fh_action_table. Index = REMOTE<<4 | REPLICATED<<3 |
// NEEDWRITE<<2 | MODIFIED<<1 | SHARED (i.e. Flags.index()).
//
// Three cells resolve to ActionInvalid: local {REPLICATED,MODIFIED,SHARED}
// with NEEDWRITE clear (index 11), local {REPLICATED,NEEDWRITE,MODIFIED,
// SHARED} (index 15), and remote {REPLICATED,NEEDWRITE,MODIFIED,SHARED}
// (index 31). The remote counterpart of index 11 (index 27, same flags plus
// REMOTE) is NOT invalid in the reference table — it resolves to
// ActionRespond alone — so the invalid set is not simply "REMOTE either
// value"; it is these three specific cells.
var actionTable = [32]Action{
	// Local fault (REMOTE=0).
	0:  ActionIssueAsyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // - - - -
	1:  ActionMapVPNToPFN,                                                     // - - - S
	2:  ActionMapVPNToPFN,                                                     // - - M -
	3:  ActionMapVPNToPFN,                                                     // - - M S
	4:  ActionIssueSyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // - W - -
	5:  ActionIssueSyncTransaction | ActionUpdateMetadata,                     // - W - S
	6:  ActionMapVPNToPFN,                                                     // - W M -
	7:  ActionWaitForAsyncTransaction | ActionIssueSyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // - W M S
	8:  ActionIssueSyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // R - - -
	9:  ActionMapVPNToPFN,                                                     // R - - S
	10: ActionMapVPNToPFN,                                                     // R - M -
	11: ActionInvalid,                                                         // R - M S
	12: ActionIssueSyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // R W - -
	13: ActionIssueSyncTransaction | ActionUpdateMetadata | ActionMapVPNToPFN, // R W - S
	14: ActionMapVPNToPFN,                                                     // R W M -
	15: ActionInvalid,                                                         // R W M S

	// Remote fault (REMOTE=1).
	16: ActionRespond,                                                     // - - - -
	17: ActionRespond,                                                     // - - - S
	18: ActionRespond | ActionWriteback | ActionUpdateMetadata,            // - - M -
	19: ActionRespond,                                                     // - - M S
	20: ActionRespond,                                                     // - W - -
	21: ActionRespond | ActionInvalidate | ActionUpdateMetadata,           // - W - S
	22: ActionRespond | ActionWriteback | ActionInvalidate | ActionUpdateMetadata, // - W M -
	23: ActionRespond | ActionInvalidate | ActionUpdateMetadata,           // - W M S
	24: ActionRespond,                                                     // R - - -
	25: ActionRespond,                                                     // R - - S
	26: ActionRespond | ActionWriteback | ActionUpdateMetadata,            // R - M -
	27: ActionRespond,                                                     // R - M S
	28: ActionRespond,                                                     // R W - -
	29: ActionRespond | ActionInvalidate | ActionUpdateMetadata,           // R W - S
	30: ActionRespond | ActionInvalidate | ActionWriteback | ActionUpdateMetadata, // R W M -
	31: ActionInvalid,                                                     // R W M S
}

// lookupAction resolves f's action table entry.
func lookupAction(f Flags) Action {
	return actionTable[f.index()]
}
