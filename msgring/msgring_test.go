package msgring

import (
	"testing"

	"github.com/example/swmc-coherence/core"
	"github.com/example/swmc-coherence/simwindow"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, slots int) *Ring {
	window := make([]byte, simwindow.WindowSize(slots))
	r := Open(window, slots)
	r.Enable()
	return r
}

func sampleMessage(ws int32) core.Message {
	return core.Message{
		Header: core.MessageHeader{
			Type:        core.MsgFetch,
			WaitStation: ws,
			FromNode:    1,
			ToNode:      2,
		},
		Payload: core.MessagePayload{
			Offset:          0x1000,
			PageOrder:       0,
			AckedFaultCount: 7,
		},
	}
}

func TestDisabledRingRejectsSendAndPoll(t *testing.T) {
	window := make([]byte, simwindow.WindowSize(4))
	r := Open(window, 4)

	require.False(t, r.Enabled())
	require.False(t, r.Send(sampleMessage(1)))
	_, ok := r.Poll()
	require.False(t, ok)
}

func TestSendPollRoundTripsFIFO(t *testing.T) {
	r := newTestRing(t, 4)

	require.True(t, r.Send(sampleMessage(1)))
	require.True(t, r.Send(sampleMessage(2)))
	require.Equal(t, uint64(2), r.Depth())

	m1, ok := r.Poll()
	require.True(t, ok)
	require.Equal(t, int32(1), m1.Header.WaitStation)

	m2, ok := r.Poll()
	require.True(t, ok)
	require.Equal(t, int32(2), m2.Header.WaitStation)

	require.Equal(t, uint64(0), r.Depth())
}

func TestPollOnEmptyRingReturnsFalse(t *testing.T) {
	r := newTestRing(t, 4)
	_, ok := r.Poll()
	require.False(t, ok)
}

func TestSendFailsWhenRingIsFull(t *testing.T) {
	r := newTestRing(t, 2)

	require.True(t, r.Send(sampleMessage(1)))
	require.True(t, r.Send(sampleMessage(2)))
	require.True(t, r.Full())
	require.False(t, r.Send(sampleMessage(3)))
}

func TestRingWrapsAroundSlotsCorrectly(t *testing.T) {
	r := newTestRing(t, 2)

	for i := int32(0); i < 10; i++ {
		require.True(t, r.Send(sampleMessage(i)))
		m, ok := r.Poll()
		require.True(t, ok)
		require.Equal(t, i, m.Header.WaitStation)
	}
	require.Equal(t, uint64(10), r.Sent())
	require.Equal(t, uint64(10), r.Consumed())
}

func TestDisableStopsFurtherTraffic(t *testing.T) {
	r := newTestRing(t, 4)
	require.True(t, r.Send(sampleMessage(1)))

	r.Disable()
	require.False(t, r.Send(sampleMessage(2)))
	// Already-queued message becomes unreadable once disabled, matching
	// the "mapping layer must elide upcalls when disabled" control rule.
	_, ok := r.Poll()
	require.False(t, ok)
}

func TestTwoRingViewsOverSameBytesSeeEachOther(t *testing.T) {
	window := make([]byte, simwindow.WindowSize(4))
	sender := Open(window, 4)
	receiver := Open(window, 4)

	sender.Enable()
	require.True(t, receiver.Enabled())

	require.True(t, sender.Send(sampleMessage(42)))
	m, ok := receiver.Poll()
	require.True(t, ok)
	require.Equal(t, int32(42), m.Header.WaitStation)
}
