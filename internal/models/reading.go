// Package models defines the core domain entities: readings, predictions,
// risk levels, and alert records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Zone classifies a sensor's physical location. It parameterizes the risk
// threshold table and the alert response-time budget.
type Zone string

const (
	ZoneCritical Zone = "critical"
	ZoneStandard Zone = "standard"
)

// ParseZone maps a wire-format zone string to a Zone. An empty string
// defaults to ZoneStandard; unknown values are an error.
func ParseZone(s string) (Zone, error) {
	switch s {
	case "", string(ZoneStandard), "STANDARD":
		return ZoneStandard, nil
	case string(ZoneCritical), "CRITICAL":
		return ZoneCritical, nil
	default:
		return "", fmt.Errorf("unknown zone %q", s)
	}
}

// RawReading is the wire form of a sensor reading before validation.
// Numeric fields are pointers so that a missing field is distinguishable
// from a legitimate zero value.
type RawReading struct {
	SensorID       string     `json:"sensor_id"`
	Timestamp      *time.Time `json:"timestamp"`
	Location       string     `json:"location,omitempty"`
	Zone           string     `json:"zone,omitempty"`
	PressureBar    *float64   `json:"pressure_bar"`
	FlowRateLPS    *float64   `json:"flow_rate_lps"`
	TemperatureC   *float64   `json:"temperature_c"`
	BatteryLevel   *float64   `json:"battery_level,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
}

// Reading is a validated sensor reading. Immutable once ingested.
type Reading struct {
	SensorID       string    `json:"sensor_id"`
	Timestamp      time.Time `json:"timestamp"`
	Location       string    `json:"location,omitempty"`
	Zone           Zone      `json:"zone"`
	PressureBar    float64   `json:"pressure_bar"`
	FlowRateLPS    float64   `json:"flow_rate_lps"`
	TemperatureC   float64   `json:"temperature_c"`
	BatteryLevel   float64   `json:"battery_level"`
	SignalStrength int       `json:"signal_strength"`
}

// Validate checks structural reading constraints. Range checks that depend
// on deployment configuration (maximum pressure, future skew) live in the
// validate package; this covers the invariants every Reading must satisfy
// regardless of configuration.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return errors.New("sensor ID must not be empty")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp must not be zero")
	}
	if r.Zone != ZoneCritical && r.Zone != ZoneStandard {
		return fmt.Errorf("unknown zone %q", r.Zone)
	}
	if r.PressureBar < 0 {
		return errors.New("pressure must not be negative")
	}
	if r.FlowRateLPS < 0 {
		return errors.New("flow rate must not be negative")
	}
	if r.BatteryLevel < 0 || r.BatteryLevel > 100 {
		return errors.New("battery level must be between 0 and 100")
	}
	return nil
}

// RiskLevel is the discrete risk classification, totally ordered
// LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{"low", "medium", "high", "critical"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return fmt.Sprintf("risk(%d)", int(l))
	}
	return riskNames[l]
}

// ParseRiskLevel maps a stored risk-level string back to its RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskNames {
		if s == name {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

// MarshalJSON emits the lowercase name so sink records stay readable.
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON accepts the lowercase name form produced by MarshalJSON.
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid risk level %s", s)
	}
	parsed, err := ParseRiskLevel(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxRiskLevel returns the higher of two risk levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}
