package fault

import (
	"testing"
	"time"

	"github.com/example/swmc-coherence/coherr"
	"github.com/example/swmc-coherence/core"
	"github.com/stretchr/testify/require"
)

func TestActionTableHasExactlyThreeInvalidCells(t *testing.T) {
	invalid := 0
	for i, a := range actionTable {
		if a == ActionInvalid {
			invalid++
			require.Contains(t, []int{11, 15, 31}, i)
		}
	}
	require.Equal(t, 3, invalid)
}

func TestActionTableRemoteCounterpartOfIndex11IsNotInvalid(t *testing.T) {
	// index 11 = REPLICATED|MODIFIED|SHARED (local); its remote
	// counterpart (index 27, + REMOTE) is ActionRespond, not invalid.
	require.Equal(t, ActionInvalid, actionTable[11])
	require.Equal(t, ActionRespond, actionTable[27])
}

func TestColdReadOnInvalidPageIssuesAsyncTransaction(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x10000)

	h, attached, err := tbl.StartLocalFault(meta, false)
	require.NoError(t, err)
	require.False(t, attached)
	require.True(t, h.Action().Has(ActionIssueAsyncTransaction))
	require.True(t, h.Action().Has(ActionMapVPNToPFN))

	retry := tbl.FinishLocalFault(h)
	require.False(t, retry)
	require.False(t, tbl.InFlight(meta.Offset))
}

func TestUpgradeToWriteOnSharedPageIssuesSyncTransaction(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x20000)
	meta.SetState(core.StateShared)

	h, attached, err := tbl.StartLocalFault(meta, true)
	require.NoError(t, err)
	require.False(t, attached)
	require.True(t, h.Action().Has(ActionIssueSyncTransaction))
}

func TestWriteFaultOnModifiedPageJustMapsIn(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x30000)
	meta.SetState(core.StateModified)

	h, _, err := tbl.StartLocalFault(meta, true)
	require.NoError(t, err)
	require.Equal(t, ActionMapVPNToPFN, h.Action())
}

func TestRemoteReadNacksWhenLocalWriteInFlight(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x40000)

	local, _, err := tbl.StartLocalFault(meta, true)
	require.NoError(t, err)

	_, ack := tbl.StartRemoteFault(meta, false, 0, core.NodeID(2), core.NodeID(1))
	require.False(t, ack, "remote READ must not outrank local WRITE")

	require.False(t, tbl.FinishLocalFault(local))
}

func TestConcurrentWritersTieBreakByAckCountThenNodeID(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x50000)

	local, _, err := tbl.StartLocalFault(meta, true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		tbl.IncrementLocalAcked()
	}

	// Equal ACK counts (5 and 5): lower node id wins. Local node id 1 <
	// remote node id 2, so the remote write loses and is NACKed, and the
	// winning local handle is not marked RETRY.
	_, ack := tbl.StartRemoteFault(meta, true, 5, core.NodeID(2), core.NodeID(1))
	require.False(t, ack)
	require.False(t, local.Flags().has(FlagRetry))
}

func TestConcurrentWritersRemoteWinsOnLowerAckCount(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x60000)

	_, _, err := tbl.StartLocalFault(meta, true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		tbl.IncrementLocalAcked()
	}

	// Remote count 1 is lower than the local count 5, so the remote wins.
	h, ack := tbl.StartRemoteFault(meta, true, 1, core.NodeID(9), core.NodeID(1))
	require.True(t, ack)
	require.NotNil(t, h)
}

func TestSecondRemoteFaultWhileOneInFlightIsNacked(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x70000)

	h1, ack1 := tbl.StartRemoteFault(meta, false, 0, core.NodeID(2), core.NodeID(1))
	require.True(t, ack1)
	require.NotNil(t, h1)

	_, ack2 := tbl.StartRemoteFault(meta, false, 0, core.NodeID(3), core.NodeID(1))
	require.False(t, ack2, "a second concurrent remote fault on the same page must be NACKed")
}

func TestLocalFaultAttachesToInFlightRemoteFaultAndWakesOnFinish(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x80000)

	remoteH, ack := tbl.StartRemoteFault(meta, false, 0, core.NodeID(2), core.NodeID(1))
	require.True(t, ack)

	attachedCh := make(chan struct{})
	var attachErr error
	var attached bool
	go func() {
		_, attached, attachErr = tbl.StartLocalFault(meta, false)
		close(attachedCh)
	}()

	// Give the goroutine a chance to register as a waiter before finishing.
	time.Sleep(10 * time.Millisecond)
	freed := tbl.FinishRemoteFault(remoteH)
	require.False(t, freed, "handle stays until the attached local waiter finishes it")

	select {
	case <-attachedCh:
	case <-time.After(time.Second):
		t.Fatal("local waiter was never woken")
	}
	require.NoError(t, attachErr)
	require.True(t, attached)
}

func TestLocalFaultRedrivesWhenWokenHandleWasAWrite(t *testing.T) {
	tbl := NewTable()
	meta := core.NewPageMeta(0x90000)

	remoteH, ack := tbl.StartRemoteFault(meta, true, 0, core.NodeID(2), core.NodeID(1))
	require.True(t, ack)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := tbl.StartLocalFault(meta, false)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.FinishRemoteFault(remoteH)

	err := <-errCh
	require.Error(t, err)
	require.True(t, coherr.Is(err, coherr.RetryFault))
}
