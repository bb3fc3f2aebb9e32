// Package risk maps predictions to discrete risk levels using a per-zone
// threshold table, with hysteresis damping on the way down.
package risk

import (
	"github.com/aquasentry/aquasentry/internal/models"
)

// Disabled is a threshold no probability can reach, used to switch a
// band's target off.
const Disabled = 2.0

// Band is one row of the classification table. It matches when the burst
// or leak probability reaches its threshold.
type Band struct {
	Level models.RiskLevel
	Burst float64
	Leak  float64
}

// Table holds the ordered classification bands per zone, highest level
// first. Evaluation is top-down, first match wins; no match means LOW.
type Table map[models.Zone][]Band

// DefaultTable returns the standard zone thresholds. Critical-zone
// hospitals and mains trip at lower probabilities than standard
// residential lines.
func DefaultTable() Table {
	return Table{
		models.ZoneCritical: {
			{Level: models.RiskCritical, Burst: 0.3, Leak: 0.7},
			{Level: models.RiskHigh, Burst: 0.1, Leak: 0.4},
			{Level: models.RiskMedium, Burst: Disabled, Leak: 0.2},
		},
		models.ZoneStandard: {
			{Level: models.RiskCritical, Burst: 0.5, Leak: 0.8},
			{Level: models.RiskHigh, Burst: 0.2, Leak: 0.6},
			{Level: models.RiskMedium, Burst: Disabled, Leak: 0.3},
		},
	}
}

// Hysteresis carries the de-escalation streak between classifications.
// The zero value is the correct initial state. The caller owns it; the
// classifier never keeps state of its own.
type Hysteresis struct {
	// Streak counts consecutive raw classifications below the held level.
	Streak int
	// Candidate is the highest raw level observed during the streak, the
	// level the hold releases to.
	Candidate models.RiskLevel
}

// Classifier turns predictions into risk levels.
type Classifier struct {
	table Table
	k     int
}

// New builds a classifier over the given table. deescalationConfirmations
// is the number of consecutive lower classifications required before the
// level is allowed to fall; 1 disables the damping.
func New(table Table, deescalationConfirmations int) *Classifier {
	if deescalationConfirmations < 1 {
		deescalationConfirmations = 1
	}
	return &Classifier{table: table, k: deescalationConfirmations}
}

// Raw applies the threshold table only, without hysteresis.
func (c *Classifier) Raw(p models.Prediction, zone models.Zone) models.RiskLevel {
	bands, ok := c.table[zone]
	if !ok {
		bands = c.table[models.ZoneStandard]
	}
	for _, b := range bands {
		if p.BurstProbability >= b.Burst || p.LeakProbability >= b.Leak {
			return b.Level
		}
	}
	return models.RiskLow
}

// Classify computes the effective risk level given the previously held
// level. Escalation takes effect immediately; de-escalation is held until
// the configured number of consecutive lower classifications confirm it.
func (c *Classifier) Classify(p models.Prediction, zone models.Zone, prev models.RiskLevel, h Hysteresis) (models.RiskLevel, Hysteresis) {
	raw := c.Raw(p, zone)

	if raw >= prev {
		return raw, Hysteresis{}
	}

	if h.Streak == 0 {
		h.Candidate = raw
	} else {
		h.Candidate = models.MaxRiskLevel(h.Candidate, raw)
	}
	h.Streak++

	if h.Streak >= c.k {
		return h.Candidate, Hysteresis{}
	}
	return prev, h
}
