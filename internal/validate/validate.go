// Package validate converts raw wire readings into validated domain
// readings, rejecting malformed or implausible input.
package validate

import (
	"errors"
	"fmt"
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

// Reason classifies why a reading was rejected. The values double as
// metric label values so rejections can be counted per cause.
type Reason string

const (
	ReasonMissingField    Reason = "missing_field"
	ReasonOutOfRange      Reason = "out_of_range"
	ReasonFutureTimestamp Reason = "future_timestamp"
	ReasonBadZone         Reason = "bad_zone"
	ReasonUnknown         Reason = "unknown"
)

// Temperature plausibility bounds in degrees Celsius. Anything outside is
// a sensor fault, not a water temperature.
const (
	minTemperatureC = -40.0
	maxTemperatureC = 150.0
)

// Error reports a reading rejection. Rejected readings are dropped and
// counted, never retried.
type Error struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid reading: field %q: %s (%s)", e.Field, e.Detail, e.Reason)
}

// ReasonOf extracts the rejection reason from err for metric labeling.
func ReasonOf(err error) Reason {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ReasonUnknown
}

// Config bounds the accepted sensor ranges for a deployment.
type Config struct {
	MaxPressureBar float64
	MaxFutureSkew  time.Duration
}

// Validator checks raw readings against deployment limits.
type Validator struct {
	cfg Config
	now func() time.Time
}

// New returns a Validator using the wall clock.
func New(cfg Config) *Validator {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock returns a Validator with an injectable clock.
func NewWithClock(cfg Config, now func() time.Time) *Validator {
	return &Validator{cfg: cfg, now: now}
}

// Validate converts a raw reading into a validated Reading, or reports why
// it cannot be accepted.
func (v *Validator) Validate(raw models.RawReading) (models.Reading, error) {
	if raw.SensorID == "" {
		return models.Reading{}, &Error{Reason: ReasonMissingField, Field: "sensor_id", Detail: "required"}
	}
	if raw.Timestamp == nil || raw.Timestamp.IsZero() {
		return models.Reading{}, &Error{Reason: ReasonMissingField, Field: "timestamp", Detail: "required"}
	}
	if raw.PressureBar == nil {
		return models.Reading{}, &Error{Reason: ReasonMissingField, Field: "pressure_bar", Detail: "required"}
	}
	if raw.FlowRateLPS == nil {
		return models.Reading{}, &Error{Reason: ReasonMissingField, Field: "flow_rate_lps", Detail: "required"}
	}
	if raw.TemperatureC == nil {
		return models.Reading{}, &Error{Reason: ReasonMissingField, Field: "temperature_c", Detail: "required"}
	}

	zone, err := models.ParseZone(raw.Zone)
	if err != nil {
		return models.Reading{}, &Error{Reason: ReasonBadZone, Field: "zone", Detail: err.Error()}
	}

	if skew := raw.Timestamp.Sub(v.now()); skew > v.cfg.MaxFutureSkew {
		return models.Reading{}, &Error{
			Reason: ReasonFutureTimestamp,
			Field:  "timestamp",
			Detail: fmt.Sprintf("%s ahead of ingest clock", skew.Round(time.Second)),
		}
	}

	if p := *raw.PressureBar; p < 0 || p > v.cfg.MaxPressureBar {
		return models.Reading{}, &Error{
			Reason: ReasonOutOfRange,
			Field:  "pressure_bar",
			Detail: fmt.Sprintf("%.3f outside [0, %.1f]", p, v.cfg.MaxPressureBar),
		}
	}
	if f := *raw.FlowRateLPS; f < 0 {
		return models.Reading{}, &Error{
			Reason: ReasonOutOfRange,
			Field:  "flow_rate_lps",
			Detail: fmt.Sprintf("%.3f is negative", f),
		}
	}
	if t := *raw.TemperatureC; t < minTemperatureC || t > maxTemperatureC {
		return models.Reading{}, &Error{
			Reason: ReasonOutOfRange,
			Field:  "temperature_c",
			Detail: fmt.Sprintf("%.1f outside [%.0f, %.0f]", t, minTemperatureC, maxTemperatureC),
		}
	}

	// Battery and signal strength are optional telemetry. A missing battery
	// reads as full rather than dead so it cannot masquerade as a power
	// failure.
	battery := 100.0
	if raw.BatteryLevel != nil {
		battery = *raw.BatteryLevel
		if battery < 0 || battery > 100 {
			return models.Reading{}, &Error{
				Reason: ReasonOutOfRange,
				Field:  "battery_level",
				Detail: fmt.Sprintf("%.1f outside [0, 100]", battery),
			}
		}
	}
	signal := 0
	if raw.SignalStrength != nil {
		signal = *raw.SignalStrength
	}

	return models.Reading{
		SensorID:       raw.SensorID,
		Timestamp:      *raw.Timestamp,
		Location:       raw.Location,
		Zone:           zone,
		PressureBar:    *raw.PressureBar,
		FlowRateLPS:    *raw.FlowRateLPS,
		TemperatureC:   *raw.TemperatureC,
		BatteryLevel:   battery,
		SignalStrength: signal,
	}, nil
}
