package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMSBIndex(t *testing.T) {
	require.Equal(t, 0, MSBIndex(0))
	require.Equal(t, 0, MSBIndex(1))
	require.Equal(t, 1, MSBIndex(2))
	require.Equal(t, 1, MSBIndex(3))
	require.Equal(t, 31, MSBIndex(1<<31))
}

func TestHistogramAddRemoveTotal(t *testing.T) {
	var h Histogram
	h.Add(1)
	h.Add(2)
	h.Add(1000)
	require.EqualValues(t, 3, h.Total())

	h.Remove(2)
	require.EqualValues(t, 2, h.Total())
}

func TestHistogramMoveIsNoopWithinSameBucket(t *testing.T) {
	var h Histogram
	h.Add(4)
	h.Move(4, 5) // MSBIndex(4) == MSBIndex(5) == 2
	require.EqualValues(t, 1, h.Total())
	require.EqualValues(t, 1, h.Bucket(2))
}

func TestHistogramHalveCoolsEveryBucket(t *testing.T) {
	var h Histogram
	for i := 0; i < 8; i++ {
		h.Add(1) // bucket 0
	}
	h.Halve()
	require.EqualValues(t, 4, h.Bucket(0))
}

func TestHistogramPercentileThreshold(t *testing.T) {
	var h Histogram
	for i := 0; i < 80; i++ {
		h.Add(1) // bucket 0, cold
	}
	for i := 0; i < 20; i++ {
		h.Add(1 << 10) // bucket 10, hot
	}
	// top 20% of pages are in bucket 10, so the threshold should land there.
	threshold := h.PercentileThreshold(20)
	require.Equal(t, 10, threshold)
}

func TestHistogramInvariantAfterAging(t *testing.T) {
	var h Histogram
	counts := []uint32{0, 1, 3, 7, 1 << 20, 1 << 31}
	for _, c := range counts {
		h.Add(c)
	}
	// Aging reassigns a page's bucket as its access count decays, but never
	// drops or duplicates a tracked page.
	h.Move(counts[4], counts[4]>>3)
	h.Move(counts[5], counts[5]>>3)
	require.EqualValues(t, len(counts), h.Total())
}
