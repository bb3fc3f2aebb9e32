// Package state owns per-sensor rolling state: a fixed ring of recent
// readings with incrementally maintained pressure and flow aggregates.
package state

import (
	"math"
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

// window is a fixed-capacity ring of readings with running sums, so mean
// and standard deviation are O(1) per update instead of a rescan.
type window struct {
	buf  []models.Reading
	next int

	pressureSum   float64
	pressureSumSq float64
	flowSum       float64
	flowSumSq     float64
}

func newWindow(capacity int) *window {
	return &window{buf: make([]models.Reading, 0, capacity)}
}

func (w *window) count() int { return len(w.buf) }

func (w *window) add(r models.Reading) {
	w.pressureSum += r.PressureBar
	w.pressureSumSq += r.PressureBar * r.PressureBar
	w.flowSum += r.FlowRateLPS
	w.flowSumSq += r.FlowRateLPS * r.FlowRateLPS
}

func (w *window) remove(r models.Reading) {
	w.pressureSum -= r.PressureBar
	w.pressureSumSq -= r.PressureBar * r.PressureBar
	w.flowSum -= r.FlowRateLPS
	w.flowSumSq -= r.FlowRateLPS * r.FlowRateLPS
}

// push appends a reading, evicting the oldest entry once the ring is full.
func (w *window) push(r models.Reading) {
	if len(w.buf) < cap(w.buf) {
		w.buf = append(w.buf, r)
		w.add(r)
		return
	}
	w.remove(w.buf[w.next])
	w.buf[w.next] = r
	w.add(r)
	w.next = (w.next + 1) % cap(w.buf)
}

// replace swaps the entry carrying the same timestamp for the new reading
// and reports whether such an entry existed. Keeps ingest idempotent for
// retransmitted readings.
func (w *window) replace(r models.Reading) bool {
	for i := range w.buf {
		if w.buf[i].Timestamp.Equal(r.Timestamp) {
			w.remove(w.buf[i])
			w.buf[i] = r
			w.add(r)
			return true
		}
	}
	return false
}

// ordered returns the retained readings oldest first.
func (w *window) ordered() []models.Reading {
	out := make([]models.Reading, 0, len(w.buf))
	if len(w.buf) < cap(w.buf) {
		out = append(out, w.buf...)
		return out
	}
	out = append(out, w.buf[w.next:]...)
	out = append(out, w.buf[:w.next]...)
	return out
}

// sampleStdDev computes the n-1 standard deviation from running sums,
// returning 0 for windows with fewer than two samples.
func sampleStdDev(sum, sumSq float64, n int) float64 {
	if n < 2 {
		return 0
	}
	fn := float64(n)
	variance := (sumSq - sum*sum/fn) / (fn - 1)
	if variance < 0 {
		// Floating point cancellation on near-constant signals.
		return 0
	}
	return math.Sqrt(variance)
}

func (w *window) pressureMean() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.pressureSum / float64(len(w.buf))
}

func (w *window) pressureStdDev() float64 {
	return sampleStdDev(w.pressureSum, w.pressureSumSq, len(w.buf))
}

func (w *window) flowMean() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.flowSum / float64(len(w.buf))
}

func (w *window) flowStdDev() float64 {
	return sampleStdDev(w.flowSum, w.flowSumSq, len(w.buf))
}

// latestTimestamp returns the maximum timestamp currently in the ring.
func (w *window) latestTimestamp() time.Time {
	var latest time.Time
	for i := range w.buf {
		if w.buf[i].Timestamp.After(latest) {
			latest = w.buf[i].Timestamp
		}
	}
	return latest
}
