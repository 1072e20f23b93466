package waitstation

import (
	"sync"
	"testing"
	"time"

	"github.com/example/swmc-coherence/coherr"
	"github.com/stretchr/testify/require"
)

func TestAcquireAssignsDistinctIDs(t *testing.T) {
	r := NewRegistry(8)
	a, err := r.Acquire(1)
	require.NoError(t, err)
	b, err := r.Acquire(1)
	require.NoError(t, err)

	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, 2, r.Len())
}

func TestDeliverAckCompletesAfterExpectedCount(t *testing.T) {
	r := NewRegistry(8)
	st, err := r.Acquire(3)
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() { done <- st.Wait() }()

	r.DeliverAck(st.ID())
	r.DeliverAck(st.ID())
	select {
	case <-done:
		t.Fatal("station completed before all ACKs arrived")
	case <-time.After(20 * time.Millisecond):
	}

	r.DeliverAck(st.ID())
	require.Equal(t, Ok, <-done)
}

func TestDeliverNackFailsWaiterImmediately(t *testing.T) {
	r := NewRegistry(8)
	st, err := r.Acquire(5)
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() { done <- st.Wait() }()

	r.DeliverNack(st.ID())
	require.Equal(t, Nacked, <-done)
}

func TestDeliveryToUnknownIDIsDropped(t *testing.T) {
	r := NewRegistry(8)
	require.NotPanics(t, func() {
		r.DeliverAck(999)
		r.DeliverNack(999)
	})
}

func TestAsyncStationRoutesToCompletionChannel(t *testing.T) {
	r := NewRegistry(8)
	st, err := r.Acquire(1)
	require.NoError(t, err)
	st.Async = true
	st.Private = "replica-frame"

	r.DeliverAck(st.ID())

	select {
	case completed := <-r.AsyncCompletions():
		require.Equal(t, st.ID(), completed.ID())
		require.Equal(t, "replica-frame", completed.Private)
	case <-time.After(time.Second):
		t.Fatal("async station never reached completion channel")
	}
}

func TestReleaseReturnsIDToPool(t *testing.T) {
	r := NewRegistry(8)
	st, err := r.Acquire(1)
	require.NoError(t, err)
	id := st.ID()

	r.DeliverAck(id)
	st.Wait()
	r.Release(id)
	require.Equal(t, 0, r.Len())
}

func TestAtSoftThresholdTripsAt80Percent(t *testing.T) {
	r := NewRegistry(8)
	require.False(t, r.AtSoftThreshold())

	for i := 0; i < softThreshold; i++ {
		_, err := r.Acquire(1)
		require.NoError(t, err)
	}
	require.True(t, r.AtSoftThreshold())
}

func TestAcquireFailsOnceCapacityIsExhausted(t *testing.T) {
	r := NewRegistry(8)
	for i := 0; i < Capacity; i++ {
		_, err := r.Acquire(1)
		require.NoError(t, err)
	}

	_, err := r.Acquire(1)
	require.Error(t, err)
	require.True(t, coherr.Is(err, coherr.OutOfResources))
}

func TestConcurrentDeliverAckIsRaceFree(t *testing.T) {
	r := NewRegistry(8)
	st, err := r.Acquire(50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.DeliverAck(st.ID())
		}()
	}
	wg.Wait()
	require.Equal(t, Ok, st.Wait())
}
