package state

import (
	"sort"
	"sync"
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

// Config controls store behavior.
type Config struct {
	WindowSize int
}

// DefaultConfig returns the standard store configuration.
func DefaultConfig() Config {
	return Config{WindowSize: 30}
}

// cell is one sensor's state. The store map is guarded by Store.mu; each
// cell carries its own lock so sensors never contend with each other.
type cell struct {
	mu sync.Mutex

	sensorID string
	location string
	zone     models.Zone

	win *window

	calibratedAt  time.Time
	lastTimestamp time.Time
	lastSeen      time.Time
	updatedAt     time.Time
}

// Store holds all per-sensor state. Safe for concurrent use; mutation of
// one sensor never blocks another.
type Store struct {
	mu    sync.RWMutex
	cells map[string]*cell

	cfg Config
	now func() time.Time
}

// New returns a Store using the wall clock.
func New(cfg Config) *Store {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock returns a Store with an injectable arrival clock.
func NewWithClock(cfg Config, now func() time.Time) *Store {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Store{
		cells: make(map[string]*cell),
		cfg:   cfg,
		now:   now,
	}
}

func (s *Store) getOrCreate(sensorID string) *cell {
	s.mu.RLock()
	c, ok := s.cells[sensorID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.cells[sensorID]; ok {
		return c
	}
	c = &cell{
		sensorID: sensorID,
		zone:     models.ZoneStandard,
		win:      newWindow(s.cfg.WindowSize),
		// An unseen sensor is assumed calibrated at registration until a
		// checkpoint or maintenance record says otherwise.
		calibratedAt: s.now(),
	}
	s.cells[sensorID] = c
	return c
}

// Update folds a validated reading into its sensor's state and returns a
// snapshot of the resulting aggregates. State is created lazily on first
// contact. A reading that repeats an already-retained timestamp replaces
// that entry instead of double-counting; a reading not strictly newer than
// the sensor's latest is folded in but flagged out of order.
func (s *Store) Update(r models.Reading) models.SensorSnapshot {
	c := s.getOrCreate(r.SensorID)

	c.mu.Lock()
	defer c.mu.Unlock()

	outOfOrder := !c.lastTimestamp.IsZero() && !r.Timestamp.After(c.lastTimestamp)
	duplicate := c.win.replace(r)
	if !duplicate {
		c.win.push(r)
	}

	if r.Timestamp.After(c.lastTimestamp) {
		c.lastTimestamp = r.Timestamp
	}
	if r.Location != "" {
		c.location = r.Location
	}
	c.zone = r.Zone
	arrival := s.now()
	c.lastSeen = arrival
	c.updatedAt = arrival

	snap := c.snapshotLocked()
	snap.OutOfOrder = outOfOrder
	snap.Duplicate = duplicate
	return snap
}

// snapshotLocked copies the cell's aggregates. Caller holds c.mu.
func (c *cell) snapshotLocked() models.SensorSnapshot {
	return models.SensorSnapshot{
		SensorID:       c.sensorID,
		Zone:           c.zone,
		WindowCount:    c.win.count(),
		PressureMean:   c.win.pressureMean(),
		PressureStdDev: c.win.pressureStdDev(),
		FlowMean:       c.win.flowMean(),
		FlowStdDev:     c.win.flowStdDev(),
		CalibratedAt:   c.calibratedAt,
		LastTimestamp:  c.lastTimestamp,
		LastSeen:       c.lastSeen,
	}
}

// Snapshot returns the current aggregates for one sensor.
func (s *Store) Snapshot(sensorID string) (models.SensorSnapshot, bool) {
	s.mu.RLock()
	c, ok := s.cells[sensorID]
	s.mu.RUnlock()
	if !ok {
		return models.SensorSnapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), true
}

// Sensors returns snapshots for every known sensor, ordered by sensor ID.
func (s *Store) Sensors() []models.SensorSnapshot {
	s.mu.RLock()
	cells := make([]*cell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	out := make([]models.SensorSnapshot, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		out = append(out, c.snapshotLocked())
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Count returns the number of tracked sensors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

// Deregister removes a sensor's state entirely and reports whether it
// existed. This is the only path that destroys state.
func (s *Store) Deregister(sensorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[sensorID]; !ok {
		return false
	}
	delete(s.cells, sensorID)
	return true
}

// Export copies every sensor's durable state for checkpointing, windows
// ordered oldest first.
func (s *Store) Export() []models.SensorState {
	s.mu.RLock()
	cells := make([]*cell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	out := make([]models.SensorState, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		out = append(out, models.SensorState{
			SensorID:      c.sensorID,
			Window:        c.win.ordered(),
			Location:      c.location,
			Zone:          c.zone,
			CalibratedAt:  c.calibratedAt,
			LastTimestamp: c.lastTimestamp,
			LastSeen:      c.lastSeen,
			UpdatedAt:     c.updatedAt,
		})
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Restore rebuilds sensor state from checkpointed records, replaying each
// retained window through the ring so the aggregates are recomputed fresh.
func (s *Store) Restore(states []models.SensorState) {
	for _, st := range states {
		if st.SensorID == "" {
			continue
		}
		c := s.getOrCreate(st.SensorID)
		c.mu.Lock()
		c.win = newWindow(s.cfg.WindowSize)
		for _, r := range st.Window {
			c.win.push(r)
		}
		c.location = st.Location
		if st.Zone != "" {
			c.zone = st.Zone
		}
		if !st.CalibratedAt.IsZero() {
			c.calibratedAt = st.CalibratedAt
		}
		c.lastTimestamp = st.LastTimestamp
		if c.lastTimestamp.IsZero() {
			c.lastTimestamp = c.win.latestTimestamp()
		}
		c.lastSeen = st.LastSeen
		c.updatedAt = st.UpdatedAt
		c.mu.Unlock()
	}
}
