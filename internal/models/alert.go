package models

import "time"

// AlertState is the lifecycle state of an alert record.
type AlertState string

const (
	AlertOpen         AlertState = "open"
	AlertEscalated    AlertState = "escalated"
	AlertAcknowledged AlertState = "acknowledged"
	AlertClosed       AlertState = "closed"
)

// Resolution values recorded when an alert closes.
const (
	ResolutionAcknowledged = "acknowledged"
	ResolutionAutoResolved = "auto_resolved"
)

// AlertRecord tracks one alert through its lifecycle. The alert machine
// guarantees at most one non-closed record per sensor at any time.
type AlertRecord struct {
	AlertID         string     `json:"alert_id"`
	SensorID        string     `json:"sensor_id"`
	Zone            Zone       `json:"zone"`
	Severity        RiskLevel  `json:"severity"`
	State           AlertState `json:"state"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	EscalationLevel int        `json:"escalation_level"`
	Audience        string     `json:"audience"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// Active reports whether the record still occupies the sensor's alert slot.
func (a *AlertRecord) Active() bool {
	return a.State != AlertClosed
}

// Acknowledged reports whether an operator has taken ownership.
func (a *AlertRecord) Acknowledged() bool {
	return a.State == AlertAcknowledged
}

// Audience hints by escalation level. Level 0 notifies the on-call
// operator; each missed response budget widens the recipient set.
const (
	AudienceOperator   = "operator"
	AudienceSupervisor = "supervisor"
	AudienceEmergency  = "emergency"
)

// AudienceForLevel maps an escalation level to its notification audience.
func AudienceForLevel(level int) string {
	switch {
	case level <= 0:
		return AudienceOperator
	case level == 1:
		return AudienceSupervisor
	default:
		return AudienceEmergency
	}
}
