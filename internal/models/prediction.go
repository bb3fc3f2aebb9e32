package models

import "time"

// FeatureVector is the derived model input for a single reading. It is
// ephemeral: built, scored, and discarded within one pipeline pass.
type FeatureVector struct {
	SensorID string

	// Raw signal features.
	Pressure       float64
	Flow           float64
	Temperature    float64
	BatteryLevel   float64
	SignalStrength float64

	// Time features derived from the reading timestamp.
	HourOfDay    int
	DayOfWeek    int
	IsWeekend    bool
	IsNightShift bool

	// Cross-signal features.
	PressureFlowRatio   float64
	TempPressureProduct float64

	// Rolling-window features from the sensor state snapshot.
	PressureMean   float64
	PressureStdDev float64
	FlowMean       float64
	FlowStdDev     float64
	WindowCount    int

	// LowConfidence marks a window still warming up.
	LowConfidence bool
}

// Map flattens the vector into named numeric features for scorers that
// operate on feature names rather than struct fields. Booleans map to 0/1.
func (v FeatureVector) Map() map[string]float64 {
	m := map[string]float64{
		"pressure":              v.Pressure,
		"flow":                  v.Flow,
		"temperature":           v.Temperature,
		"battery_level":         v.BatteryLevel,
		"signal_strength":       v.SignalStrength,
		"hour_of_day":           float64(v.HourOfDay),
		"day_of_week":           float64(v.DayOfWeek),
		"pressure_flow_ratio":   v.PressureFlowRatio,
		"temp_pressure_product": v.TempPressureProduct,
		"pressure_mean":         v.PressureMean,
		"pressure_stddev":       v.PressureStdDev,
		"flow_mean":             v.FlowMean,
		"flow_stddev":           v.FlowStdDev,
		"window_count":          float64(v.WindowCount),
	}
	if v.IsWeekend {
		m["is_weekend"] = 1
	} else {
		m["is_weekend"] = 0
	}
	if v.IsNightShift {
		m["is_night_shift"] = 1
	} else {
		m["is_night_shift"] = 0
	}
	if v.LowConfidence {
		m["low_confidence"] = 1
	} else {
		m["low_confidence"] = 0
	}
	return m
}

// ModelVote holds one scorer's per-target probabilities.
type ModelVote struct {
	Leak  float64 `json:"leak"`
	Burst float64 `json:"burst"`
}

// Prediction is the ensemble output for a single reading.
type Prediction struct {
	LeakProbability  float64              `json:"leak_probability"`
	BurstProbability float64              `json:"burst_probability"`
	Confidence       float64              `json:"confidence"`
	ModelVotes       map[string]ModelVote `json:"model_votes,omitempty"`
	ModelCount       int                  `json:"model_count"`
	Stale            bool                 `json:"stale,omitempty"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// MaxProbability returns the larger of the leak and burst probabilities.
func (p Prediction) MaxProbability() float64 {
	if p.BurstProbability > p.LeakProbability {
		return p.BurstProbability
	}
	return p.LeakProbability
}
