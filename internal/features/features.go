// Package features derives model inputs from a validated reading and its
// sensor state snapshot.
package features

import (
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

// Config controls time-derived features.
type Config struct {
	// Night window in local hours, wrapping midnight when start > end.
	NightStartHour int
	NightEndHour   int
}

// DefaultConfig returns the standard extraction configuration.
func DefaultConfig() Config {
	return Config{NightStartHour: 22, NightEndHour: 6}
}

// Extractor turns readings into feature vectors. Extraction is pure: the
// same reading and snapshot always produce the same vector.
type Extractor struct {
	cfg Config
}

func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

func (e *Extractor) isNightShift(hour int) bool {
	start, end := e.cfg.NightStartHour, e.cfg.NightEndHour
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Extract builds the feature vector for one reading. Ratios guard against
// division by zero; rolling features come straight from the snapshot, with
// LowConfidence marking a window of fewer than two samples.
func (e *Extractor) Extract(r models.Reading, snap models.SensorSnapshot) models.FeatureVector {
	hour := r.Timestamp.Hour()
	dow := r.Timestamp.Weekday()

	ratio := 0.0
	if r.FlowRateLPS != 0 {
		ratio = r.PressureBar / r.FlowRateLPS
	}

	return models.FeatureVector{
		SensorID: r.SensorID,

		Pressure:       r.PressureBar,
		Flow:           r.FlowRateLPS,
		Temperature:    r.TemperatureC,
		BatteryLevel:   r.BatteryLevel,
		SignalStrength: float64(r.SignalStrength),

		HourOfDay:    hour,
		DayOfWeek:    int(dow),
		IsWeekend:    dow == time.Saturday || dow == time.Sunday,
		IsNightShift: e.isNightShift(hour),

		PressureFlowRatio:   ratio,
		TempPressureProduct: r.TemperatureC * r.PressureBar,

		PressureMean:   snap.PressureMean,
		PressureStdDev: snap.PressureStdDev,
		FlowMean:       snap.FlowMean,
		FlowStdDev:     snap.FlowStdDev,
		WindowCount:    snap.WindowCount,

		LowConfidence: snap.WindowCount < 2,
	}
}
