package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowOrdered(t *testing.T) {
	t.Parallel()

	t.Run("partial window keeps insertion order", func(t *testing.T) {
		t.Parallel()
		w := newWindow(4)
		w.push(reading("WDN-0100", 0, 4.0, 10.0))
		w.push(reading("WDN-0100", 1, 4.1, 10.1))

		got := w.ordered()
		require.Len(t, got, 2)
		assert.Equal(t, testBase, got[0].Timestamp)
		assert.Equal(t, testBase.Add(time.Minute), got[1].Timestamp)
	})

	t.Run("full window rotates oldest first", func(t *testing.T) {
		t.Parallel()
		w := newWindow(3)
		for i := 0; i < 5; i++ {
			w.push(reading("WDN-0100", i, float64(i), 1))
		}

		got := w.ordered()
		require.Len(t, got, 3)
		assert.Equal(t, 2.0, got[0].PressureBar)
		assert.Equal(t, 3.0, got[1].PressureBar)
		assert.Equal(t, 4.0, got[2].PressureBar)
	})

	t.Run("eviction drops oldest from aggregates", func(t *testing.T) {
		t.Parallel()
		w := newWindow(2)
		w.push(reading("WDN-0100", 0, 10.0, 100.0))
		w.push(reading("WDN-0100", 1, 4.0, 10.0))
		w.push(reading("WDN-0100", 2, 5.0, 11.0))

		assert.Equal(t, 2, w.count())
		assert.InDelta(t, 4.5, w.pressureMean(), 1e-9)
		assert.InDelta(t, 10.5, w.flowMean(), 1e-9)
	})
}

func TestWindowReplace(t *testing.T) {
	t.Parallel()

	t.Run("matching timestamp swaps in place", func(t *testing.T) {
		t.Parallel()
		w := newWindow(3)
		w.push(reading("WDN-0101", 0, 4.0, 10.0))
		w.push(reading("WDN-0101", 1, 4.2, 10.2))

		replaced := w.replace(reading("WDN-0101", 1, 6.0, 12.0))
		require.True(t, replaced)
		assert.Equal(t, 2, w.count())
		assert.InDelta(t, 5.0, w.pressureMean(), 1e-9)

		got := w.ordered()
		require.Len(t, got, 2)
		assert.Equal(t, 6.0, got[1].PressureBar)
	})

	t.Run("unknown timestamp reports false and leaves sums alone", func(t *testing.T) {
		t.Parallel()
		w := newWindow(3)
		w.push(reading("WDN-0101", 0, 4.0, 10.0))

		replaced := w.replace(reading("WDN-0101", 7, 9.0, 90.0))
		assert.False(t, replaced)
		assert.Equal(t, 1, w.count())
		assert.InDelta(t, 4.0, w.pressureMean(), 1e-9)
	})
}

func TestWindowLatestTimestamp(t *testing.T) {
	t.Parallel()

	w := newWindow(4)
	assert.True(t, w.latestTimestamp().IsZero())

	// Ring positions do not follow time order once late arrivals land.
	w.push(reading("WDN-0102", 3, 4.0, 10.0))
	w.push(reading("WDN-0102", 1, 4.1, 10.1))
	w.push(reading("WDN-0102", 2, 4.2, 10.2))

	assert.Equal(t, testBase.Add(3*time.Minute), w.latestTimestamp())
}

func TestSampleStdDev(t *testing.T) {
	t.Parallel()

	t.Run("fewer than two samples", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, sampleStdDev(4.0, 16.0, 1))
		assert.Equal(t, 0.0, sampleStdDev(0, 0, 0))
	})

	t.Run("constant signal survives cancellation", func(t *testing.T) {
		t.Parallel()
		// Sums for 1000 identical pressure readings; naive subtraction
		// can go slightly negative here.
		const v = 4.19
		n := 1000
		sum := v * float64(n)
		sumSq := v * v * float64(n)
		assert.Equal(t, 0.0, sampleStdDev(sum, sumSq, n))
	})

	t.Run("two-point spread", func(t *testing.T) {
		t.Parallel()
		// Samples 3 and 5: mean 4, sample variance 2.
		got := sampleStdDev(8.0, 34.0, 2)
		assert.InDelta(t, 1.4142135, got, 1e-6)
	})
}
