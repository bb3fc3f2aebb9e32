package state

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/stat"

	"github.com/aquasentry/aquasentry/internal/models"
)

var testBase = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func reading(id string, seq int, pressure, flow float64) models.Reading {
	return models.Reading{
		SensorID:     id,
		Timestamp:    testBase.Add(time.Duration(seq) * time.Minute),
		Zone:         models.ZoneStandard,
		PressureBar:  pressure,
		FlowRateLPS:  flow,
		TemperatureC: 14,
		BatteryLevel: 90,
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return testBase.Add(time.Hour) }
}

func TestUpdateCreatesState(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 5}, fixedClock())

	snap := s.Update(reading("WDN-0001", 0, 4.0, 10.0))
	if snap.WindowCount != 1 {
		t.Fatalf("window count = %d, want 1", snap.WindowCount)
	}
	if snap.OutOfOrder {
		t.Error("first reading must not be out of order")
	}
	if snap.PressureMean != 4.0 {
		t.Errorf("pressure mean = %v, want 4.0", snap.PressureMean)
	}
	if snap.PressureStdDev != 0 {
		t.Errorf("stddev with one sample = %v, want 0", snap.PressureStdDev)
	}
	if !snap.CalibratedAt.Equal(testBase.Add(time.Hour)) {
		t.Errorf("new sensor calibrated at %v, want registration time", snap.CalibratedAt)
	}
	if s.Count() != 1 {
		t.Errorf("store count = %d, want 1", s.Count())
	}
}

// TestRollingStatsMatchBatch drives the window through every fill state
// (empty, partial, full, evicting) and checks the incremental aggregates
// against a batch recomputation of the retained readings.
func TestRollingStatsMatchBatch(t *testing.T) {
	const w = 12
	s := NewWithClock(Config{WindowSize: w}, fixedClock())

	var expected []models.Reading
	for i := 0; i < 3*w; i++ {
		pressure := 4.0 + 1.7*math.Sin(float64(i)*0.9) + 0.01*float64(i)
		flow := 11.0 + 4.3*math.Cos(float64(i)*0.7)
		r := reading("WDN-0002", i, pressure, flow)

		snap := s.Update(r)

		expected = append(expected, r)
		if len(expected) > w {
			expected = expected[1:]
		}

		if snap.WindowCount != len(expected) {
			t.Fatalf("step %d: window count = %d, want %d", i, snap.WindowCount, len(expected))
		}

		pressures := make([]float64, len(expected))
		flows := make([]float64, len(expected))
		for j, e := range expected {
			pressures[j] = e.PressureBar
			flows[j] = e.FlowRateLPS
		}

		wantPMean := stat.Mean(pressures, nil)
		wantFMean := stat.Mean(flows, nil)
		var wantPStd, wantFStd float64
		if len(expected) >= 2 {
			wantPStd = stat.StdDev(pressures, nil)
			wantFStd = stat.StdDev(flows, nil)
		}

		if math.Abs(snap.PressureMean-wantPMean) > 1e-9 {
			t.Fatalf("step %d: pressure mean = %v, want %v", i, snap.PressureMean, wantPMean)
		}
		if math.Abs(snap.PressureStdDev-wantPStd) > 1e-9 {
			t.Fatalf("step %d: pressure stddev = %v, want %v", i, snap.PressureStdDev, wantPStd)
		}
		if math.Abs(snap.FlowMean-wantFMean) > 1e-9 {
			t.Fatalf("step %d: flow mean = %v, want %v", i, snap.FlowMean, wantFMean)
		}
		if math.Abs(snap.FlowStdDev-wantFStd) > 1e-9 {
			t.Fatalf("step %d: flow stddev = %v, want %v", i, snap.FlowStdDev, wantFStd)
		}
	}
}

func TestDuplicateReplacesEntry(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 5}, fixedClock())

	s.Update(reading("WDN-0003", 0, 4.0, 10.0))
	s.Update(reading("WDN-0003", 1, 4.2, 10.5))
	first := s.Update(reading("WDN-0003", 2, 4.4, 11.0))

	// Retransmission of seq 1 with corrected values.
	dup := reading("WDN-0003", 1, 5.0, 12.0)
	snap := s.Update(dup)

	if !snap.Duplicate {
		t.Error("retransmitted timestamp should be flagged duplicate")
	}
	if !snap.OutOfOrder {
		t.Error("retransmission of an old timestamp is also out of order")
	}
	if snap.WindowCount != first.WindowCount {
		t.Errorf("window count changed on duplicate: %d -> %d", first.WindowCount, snap.WindowCount)
	}

	wantMean := (4.0 + 5.0 + 4.4) / 3
	if math.Abs(snap.PressureMean-wantMean) > 1e-9 {
		t.Errorf("pressure mean after replacement = %v, want %v", snap.PressureMean, wantMean)
	}

	// Replaying the identical reading changes nothing.
	again := s.Update(dup)
	if math.Abs(again.PressureMean-snap.PressureMean) > 1e-9 || again.WindowCount != snap.WindowCount {
		t.Error("identical replay must leave aggregates unchanged")
	}
}

func TestOutOfOrderFlag(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 5}, fixedClock())

	s.Update(reading("WDN-0004", 2, 4.0, 10.0))
	late := s.Update(reading("WDN-0004", 1, 4.1, 10.1))
	if !late.OutOfOrder {
		t.Error("older timestamp should be flagged out of order")
	}
	if late.WindowCount != 2 {
		t.Errorf("late reading should still be folded in, count = %d", late.WindowCount)
	}

	next := s.Update(reading("WDN-0004", 3, 4.2, 10.2))
	if next.OutOfOrder {
		t.Error("strictly newer timestamp should not be flagged")
	}
	if !next.LastTimestamp.Equal(testBase.Add(3 * time.Minute)) {
		t.Errorf("last timestamp = %v", next.LastTimestamp)
	}
}

func TestEviction(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 3}, fixedClock())

	for i := 0; i < 4; i++ {
		s.Update(reading("WDN-0005", i, float64(i), 1))
	}
	snap, ok := s.Snapshot("WDN-0005")
	if !ok {
		t.Fatal("missing snapshot")
	}
	if snap.WindowCount != 3 {
		t.Fatalf("window count = %d, want 3", snap.WindowCount)
	}
	wantMean := (1.0 + 2.0 + 3.0) / 3
	if math.Abs(snap.PressureMean-wantMean) > 1e-9 {
		t.Errorf("mean after eviction = %v, want %v", snap.PressureMean, wantMean)
	}
}

func TestExportRestore(t *testing.T) {
	clock := fixedClock()
	s := NewWithClock(Config{WindowSize: 4}, clock)

	for i := 0; i < 6; i++ {
		s.Update(reading("WDN-0006", i, 4.0+float64(i)*0.1, 10.0+float64(i)))
	}
	s.Update(reading("WDN-0007", 0, 2.0, 5.0))

	exported := s.Export()
	if len(exported) != 2 {
		t.Fatalf("exported %d states, want 2", len(exported))
	}
	if len(exported[0].Window) != 4 {
		t.Fatalf("exported window has %d readings, want 4", len(exported[0].Window))
	}

	restored := NewWithClock(Config{WindowSize: 4}, clock)
	restored.Restore(exported)

	if diff := cmp.Diff(s.Sensors(), restored.Sensors()); diff != "" {
		t.Errorf("snapshots differ after restore (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(exported, restored.Export()); diff != "" {
		t.Errorf("exports differ after restore (-want +got):\n%s", diff)
	}
}

func TestDeregister(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 3}, fixedClock())
	s.Update(reading("WDN-0008", 0, 4.0, 10.0))

	if !s.Deregister("WDN-0008") {
		t.Error("expected deregister to report existing sensor")
	}
	if s.Deregister("WDN-0008") {
		t.Error("second deregister should report missing sensor")
	}
	if _, ok := s.Snapshot("WDN-0008"); ok {
		t.Error("snapshot should be gone after deregistration")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewWithClock(Config{WindowSize: 30}, fixedClock())

	const sensors = 8
	const perSensor = 50

	var wg sync.WaitGroup
	for i := 0; i < sensors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("WDN-%04d", n)
			for j := 0; j < perSensor; j++ {
				s.Update(reading(id, j, 4.0+float64(j)*0.01, 10.0))
			}
		}(i)
	}
	wg.Wait()

	if s.Count() != sensors {
		t.Fatalf("store count = %d, want %d", s.Count(), sensors)
	}
	for _, snap := range s.Sensors() {
		if snap.WindowCount != 30 {
			t.Errorf("sensor %s window count = %d, want 30", snap.SensorID, snap.WindowCount)
		}
	}
}
