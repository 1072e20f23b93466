package cacheflush

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlushAdvancesGeneration(t *testing.T) {
	var l Line
	require.Equal(t, uint64(0), l.Generation())
	l.Flush()
	require.Equal(t, uint64(1), l.Generation())
	l.Flush()
	require.Equal(t, uint64(2), l.Generation())
}

func TestInvalidateDoesNotAdvanceGeneration(t *testing.T) {
	var l Line
	l.Flush()
	l.Invalidate()
	require.Equal(t, uint64(1), l.Generation())
}

func TestFlushInvalidateRangeCoverEveryLine(t *testing.T) {
	lines := []*Line{{}, {}, {}}
	FlushRange(lines)
	for _, l := range lines {
		require.Equal(t, uint64(1), l.Generation())
	}
	InvalidateRange(lines)
	for _, l := range lines {
		require.Equal(t, uint64(1), l.Generation())
	}
}

func TestFlushInvalidatePairSafeUnderConcurrency(t *testing.T) {
	var l Line
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Flush()
		}()
		go func() {
			defer wg.Done()
			l.Invalidate()
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(100), l.Generation())
}
