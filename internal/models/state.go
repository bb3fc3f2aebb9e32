package models

import (
	"time"
)

// SensorState is the durable per-sensor state held by the state store and
// persisted through checkpoints. Window holds the retained readings oldest
// first; the store rebuilds its rolling aggregates from it on restore.
type SensorState struct {
	SensorID string `json:"sensor_id"`

	Window []Reading `json:"window"`

	Location string `json:"location,omitempty"`
	Zone     Zone   `json:"zone"`

	CalibratedAt  time.Time `json:"calibrated_at"`
	LastTimestamp time.Time `json:"last_timestamp"`
	LastSeen      time.Time `json:"last_seen"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SensorSnapshot is a point-in-time copy of a sensor's rolling aggregates,
// taken under the store lock and safe to read without further coordination.
type SensorSnapshot struct {
	SensorID string
	Zone     Zone

	WindowCount    int
	PressureMean   float64
	PressureStdDev float64
	FlowMean       float64
	FlowStdDev     float64

	CalibratedAt  time.Time
	LastTimestamp time.Time
	LastSeen      time.Time

	// OutOfOrder is set when the applied reading's timestamp was not
	// strictly newer than the previous one for this sensor.
	OutOfOrder bool
	// Duplicate is set when the reading replaced an existing window entry
	// with the same timestamp instead of appending.
	Duplicate bool
}

// Result is the record emitted to result sinks for every processed reading.
type Result struct {
	ID          string     `json:"id"`
	SensorID    string     `json:"sensor_id"`
	Timestamp   time.Time  `json:"timestamp"`
	Zone        Zone       `json:"zone"`
	Prediction  Prediction `json:"prediction"`
	RiskLevel   RiskLevel  `json:"risk_level"`
	AlertID     string     `json:"alert_id,omitempty"`
	OutOfOrder  bool       `json:"out_of_order,omitempty"`
	LatencyMS   float64    `json:"latency_ms"`
	ProcessedAt time.Time  `json:"processed_at"`
}
