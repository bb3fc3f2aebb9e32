// Package alerts owns the alert lifecycle: opening on elevated risk,
// deduplicating repeats, escalating unacknowledged records past their
// response budget, and closing on sustained recovery.
package alerts

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquasentry/aquasentry/internal/models"
)

// ErrNoActiveAlert reports an acknowledgment for a sensor with nothing to
// acknowledge.
var ErrNoActiveAlert = errors.New("no active alert for sensor")

// Config controls machine behavior.
type Config struct {
	// Response budgets before an unacknowledged alert escalates.
	CriticalResponseBudget time.Duration
	StandardResponseBudget time.Duration
	// CloseConfirmations is the number of consecutive LOW observations
	// required to close an active alert.
	CloseConfirmations int
}

// DefaultConfig returns the standard machine configuration.
func DefaultConfig() Config {
	return Config{
		CriticalResponseBudget: 5 * time.Minute,
		StandardResponseBudget: 15 * time.Minute,
		CloseConfirmations:     2,
	}
}

// Action names what an operation did to a record, so the caller can route
// notifications and archival without inspecting state transitions itself.
type Action string

const (
	ActionNone         Action = ""
	ActionOpened       Action = "opened"
	ActionRefreshed    Action = "refreshed"
	ActionEscalated    Action = "escalated"
	ActionAcknowledged Action = "acknowledged"
	ActionClosed       Action = "closed"
)

// Outcome is the result of one machine operation. Record is a copy; it is
// only meaningful when Action is not ActionNone.
type Outcome struct {
	Action Action
	Record models.AlertRecord
}

// cell tracks one sensor's alert slot. The machine map is guarded by
// Machine.mu; each cell has its own lock so sensors never contend.
type cell struct {
	mu sync.Mutex

	record    *models.AlertRecord
	lowStreak int
	// deadline is when the current escalation level's response budget
	// lapses. Zero while acknowledged.
	deadline time.Time
}

// Machine holds every sensor's alert slot. At most one non-closed record
// exists per sensor; closed records leave the machine through the returned
// Outcome and are never mutated again.
type Machine struct {
	mu    sync.RWMutex
	cells map[string]*cell

	cfg   Config
	newID func() string
}

// NewMachine builds an alert machine.
func NewMachine(cfg Config) *Machine {
	if cfg.CloseConfirmations < 1 {
		cfg.CloseConfirmations = 1
	}
	return &Machine{
		cells: make(map[string]*cell),
		cfg:   cfg,
		newID: uuid.NewString,
	}
}

func (m *Machine) budget(zone models.Zone) time.Duration {
	if zone == models.ZoneCritical {
		return m.cfg.CriticalResponseBudget
	}
	return m.cfg.StandardResponseBudget
}

func (m *Machine) getOrCreate(sensorID string) *cell {
	m.mu.RLock()
	c, ok := m.cells[sensorID]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.cells[sensorID]; ok {
		return c
	}
	c = &cell{}
	m.cells[sensorID] = c
	return c
}

// Observe feeds one classified risk level into the sensor's alert slot.
// HIGH or CRITICAL opens or refreshes a record, LOW observations
// accumulate toward closing, MEDIUM breaks a LOW streak without refreshing.
func (m *Machine) Observe(sensorID string, zone models.Zone, level models.RiskLevel, now time.Time) Outcome {
	c := m.getOrCreate(sensorID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record == nil {
		if level < models.RiskHigh {
			return Outcome{}
		}
		rec := &models.AlertRecord{
			AlertID:   m.newID(),
			SensorID:  sensorID,
			Zone:      zone,
			Severity:  level,
			State:     models.AlertOpen,
			FirstSeen: now,
			LastSeen:  now,
			Audience:  models.AudienceForLevel(0),
		}
		c.record = rec
		c.lowStreak = 0
		c.deadline = now.Add(m.budget(zone))
		return Outcome{Action: ActionOpened, Record: *rec}
	}

	switch {
	case level >= models.RiskHigh:
		c.lowStreak = 0
		c.record.LastSeen = now
		c.record.Severity = models.MaxRiskLevel(c.record.Severity, level)
		return Outcome{Action: ActionRefreshed, Record: *c.record}

	case level == models.RiskLow:
		c.lowStreak++
		if c.lowStreak < m.cfg.CloseConfirmations {
			return Outcome{}
		}
		return m.closeLocked(c, now)

	default: // MEDIUM neither refreshes nor counts toward closing.
		c.lowStreak = 0
		return Outcome{}
	}
}

// closeLocked archives the record out of the slot. Caller holds c.mu.
func (m *Machine) closeLocked(c *cell, now time.Time) Outcome {
	rec := c.record
	resolution := models.ResolutionAutoResolved
	if rec.State == models.AlertAcknowledged {
		resolution = models.ResolutionAcknowledged
	}
	rec.State = models.AlertClosed
	rec.Resolution = resolution
	closedAt := now
	rec.ClosedAt = &closedAt

	out := Outcome{Action: ActionClosed, Record: *rec}
	c.record = nil
	c.lowStreak = 0
	c.deadline = time.Time{}
	return out
}

// Ack marks the sensor's active alert acknowledged and stops escalation.
func (m *Machine) Ack(sensorID, by string, now time.Time) (Outcome, error) {
	m.mu.RLock()
	c, ok := m.cells[sensorID]
	m.mu.RUnlock()
	if !ok {
		return Outcome{}, ErrNoActiveAlert
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return Outcome{}, ErrNoActiveAlert
	}
	if c.record.State == models.AlertAcknowledged {
		return Outcome{Action: ActionNone, Record: *c.record}, nil
	}

	c.record.State = models.AlertAcknowledged
	c.record.AcknowledgedBy = by
	ackedAt := now
	c.record.AcknowledgedAt = &ackedAt
	c.deadline = time.Time{}
	return Outcome{Action: ActionAcknowledged, Record: *c.record}, nil
}

// Sweep escalates every unacknowledged record whose response budget has
// lapsed, restarting the budget at each new escalation level. Driven by
// the coordinator's ticker.
func (m *Machine) Sweep(now time.Time) []Outcome {
	m.mu.RLock()
	cells := make([]*cell, 0, len(m.cells))
	for _, c := range m.cells {
		cells = append(cells, c)
	}
	m.mu.RUnlock()

	var out []Outcome
	for _, c := range cells {
		c.mu.Lock()
		rec := c.record
		if rec == nil || rec.State == models.AlertAcknowledged ||
			c.deadline.IsZero() || now.Before(c.deadline) {
			c.mu.Unlock()
			continue
		}
		rec.State = models.AlertEscalated
		rec.EscalationLevel++
		rec.Audience = models.AudienceForLevel(rec.EscalationLevel)
		c.deadline = now.Add(m.budget(rec.Zone))
		out = append(out, Outcome{Action: ActionEscalated, Record: *rec})
		c.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.SensorID < out[j].Record.SensorID
	})
	return out
}

// Active returns a copy of the sensor's non-closed record, if any.
func (m *Machine) Active(sensorID string) (models.AlertRecord, bool) {
	m.mu.RLock()
	c, ok := m.cells[sensorID]
	m.mu.RUnlock()
	if !ok {
		return models.AlertRecord{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return models.AlertRecord{}, false
	}
	return *c.record, true
}

// ActiveAlerts returns copies of every non-closed record, ordered by
// sensor ID.
func (m *Machine) ActiveAlerts() []models.AlertRecord {
	m.mu.RLock()
	cells := make([]*cell, 0, len(m.cells))
	for _, c := range m.cells {
		cells = append(cells, c)
	}
	m.mu.RUnlock()

	var out []models.AlertRecord
	for _, c := range cells {
		c.mu.Lock()
		if c.record != nil {
			out = append(out, *c.record)
		}
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Forget drops a sensor's alert slot for deregistration. An active record
// is closed as auto-resolved and handed back for archival.
func (m *Machine) Forget(sensorID string, now time.Time) Outcome {
	m.mu.Lock()
	c, ok := m.cells[sensorID]
	if ok {
		delete(m.cells, sensorID)
	}
	m.mu.Unlock()
	if !ok {
		return Outcome{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return Outcome{}
	}
	return m.closeLocked(c, now)
}

// Restore loads persisted active records back into the machine after a
// restart, granting each a fresh response budget from now.
func (m *Machine) Restore(records []models.AlertRecord, now time.Time) {
	for _, rec := range records {
		if rec.SensorID == "" || rec.State == models.AlertClosed {
			continue
		}
		r := rec
		c := m.getOrCreate(r.SensorID)
		c.mu.Lock()
		c.record = &r
		c.lowStreak = 0
		if r.State == models.AlertAcknowledged {
			c.deadline = time.Time{}
		} else {
			c.deadline = now.Add(m.budget(r.Zone))
		}
		c.mu.Unlock()
	}
}
