// Package pipeline coordinates the processing path: validation,
// state update, feature extraction, prediction, classification, and
// alerting, partitioned by sensor for ordered concurrent processing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aquasentry/aquasentry/internal/alerts"
	"github.com/aquasentry/aquasentry/internal/ensemble"
	"github.com/aquasentry/aquasentry/internal/features"
	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/metrics"
	"github.com/aquasentry/aquasentry/internal/models"
	"github.com/aquasentry/aquasentry/internal/risk"
	"github.com/aquasentry/aquasentry/internal/sinks"
	"github.com/aquasentry/aquasentry/internal/state"
	"github.com/aquasentry/aquasentry/internal/validate"
)

// Config controls coordinator behavior.
type Config struct {
	Partitions         int
	QueueDepth         int
	PredictorTimeout   time.Duration
	ReadingBudget      time.Duration
	SweepInterval      time.Duration
	CheckpointInterval time.Duration
	OfflineAfter       time.Duration
}

// DefaultConfig returns the standard coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Partitions:         8,
		QueueDepth:         50,
		PredictorTimeout:   1 * time.Second,
		ReadingBudget:      5 * time.Second,
		SweepInterval:      15 * time.Second,
		CheckpointInterval: 1 * time.Minute,
		OfflineAfter:       5 * time.Minute,
	}
}

// Checkpointer persists engine state between runs.
type Checkpointer interface {
	SaveSensorStates(ctx context.Context, states []models.SensorState) error
}

// Deps are the engine's collaborators. Validator, Store, Extractor,
// Predictor, Classifier, Machine, and Dispatcher are required;
// Checkpointer and Clock are optional.
type Deps struct {
	Validator    *validate.Validator
	Store        *state.Store
	Extractor    *features.Extractor
	Predictor    *ensemble.Predictor
	Classifier   *risk.Classifier
	Machine      *alerts.Machine
	Dispatcher   *sinks.Dispatcher
	Checkpointer Checkpointer
	Clock        func() time.Time
}

// queued is one reading waiting on a partition queue.
type queued struct {
	reading    models.Reading
	enqueuedAt time.Time
}

// partition is one ordered processing lane. Every reading of a given
// sensor lands on the same partition, so the per-sensor tracking map is
// owned by the partition's worker and needs no lock.
type partition struct {
	queue   chan queued
	tracked map[string]*sensorTrack
}

// sensorTrack is the coordinator-held per-sensor classification state.
type sensorTrack struct {
	level          models.RiskLevel
	hysteresis     risk.Hysteresis
	lastPrediction models.Prediction
	hasPrediction  bool
}

// Engine is the streaming coordinator.
type Engine struct {
	cfg  Config
	deps Deps

	partitions []*partition
	offline    map[string]bool

	now func() time.Time
	log *logger.Logger
}

// New builds an engine over its collaborators.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Validator == nil || deps.Store == nil || deps.Extractor == nil ||
		deps.Predictor == nil || deps.Classifier == nil || deps.Machine == nil ||
		deps.Dispatcher == nil {
		return nil, errors.New("pipeline: missing required dependency")
	}
	if deps.Predictor.ModelCount() == 0 {
		return nil, errors.New("pipeline: no scorers configured")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultConfig().Partitions
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.PredictorTimeout <= 0 {
		cfg.PredictorTimeout = DefaultConfig().PredictorTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultConfig().CheckpointInterval
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	parts := make([]*partition, cfg.Partitions)
	for i := range parts {
		parts[i] = &partition{
			queue:   make(chan queued, cfg.QueueDepth),
			tracked: make(map[string]*sensorTrack),
		}
	}

	return &Engine{
		cfg:        cfg,
		deps:       deps,
		partitions: parts,
		offline:    make(map[string]bool),
		now:        now,
		log:        logger.Component("pipeline"),
	}, nil
}

func (e *Engine) partitionFor(sensorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sensorID))
	return int(h.Sum32() % uint32(len(e.partitions)))
}

// Submit validates a raw reading and enqueues it on its sensor's
// partition. It never blocks: a full partition queue drops its oldest
// entry in favor of the newcomer. The returned error reports validation
// rejection only.
func (e *Engine) Submit(raw models.RawReading, source string) error {
	reading, err := e.deps.Validator.Validate(raw)
	if err != nil {
		metrics.ReadingsRejected.WithLabelValues(string(validate.ReasonOf(err))).Inc()
		e.log.Debug("rejected reading from %s: %v", source, err)
		return err
	}
	metrics.ReadingsIngested.WithLabelValues(source).Inc()

	idx := e.partitionFor(reading.SensorID)
	p := e.partitions[idx]
	item := queued{reading: reading, enqueuedAt: e.now()}

	select {
	case p.queue <- item:
		return nil
	default:
	}

	// Queue full: make room by discarding the oldest queued reading.
	// Freshness wins over completeness under sustained overload.
	select {
	case old := <-p.queue:
		metrics.BackpressureDrops.WithLabelValues(fmt.Sprintf("%d", idx)).Inc()
		e.log.Warn("partition %d overloaded, dropped queued reading for sensor %s", idx, old.reading.SensorID)
	default:
	}

	select {
	case p.queue <- item:
	default:
		metrics.BackpressureDrops.WithLabelValues(fmt.Sprintf("%d", idx)).Inc()
		e.log.Warn("partition %d overloaded, dropped incoming reading for sensor %s", idx, reading.SensorID)
	}
	return nil
}

// Run processes readings until ctx is cancelled: one worker per
// partition, the sink dispatcher, and the maintenance loop driving alert
// sweeps, checkpoints, and the connectivity watchdog. A final checkpoint
// runs on the way out.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.deps.Dispatcher.Run(ctx)
	})
	for i := range e.partitions {
		idx := i
		g.Go(func() error {
			return e.worker(ctx, idx)
		})
	}
	g.Go(func() error {
		return e.maintenance(ctx)
	})

	e.log.Info("engine running: %d partitions, queue depth %d, %d models",
		len(e.partitions), e.cfg.QueueDepth, e.deps.Predictor.ModelCount())
	return g.Wait()
}

// maintenance drives the periodic work: alert escalation sweeps,
// state checkpoints, and sensor connectivity checks.
func (e *Engine) maintenance(ctx context.Context) error {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()
	checkpoint := time.NewTicker(e.cfg.CheckpointInterval)
	defer checkpoint.Stop()

	for {
		select {
		case <-ctx.Done():
			e.checkpointNow()
			return nil
		case <-sweep.C:
			e.sweepNow()
			e.watchConnectivity()
		case <-checkpoint.C:
			e.checkpointNow()
		}
	}
}

func (e *Engine) sweepNow() {
	for _, out := range e.deps.Machine.Sweep(e.now()) {
		metrics.AlertTransitions.WithLabelValues(string(out.Action)).Inc()
		e.log.Warn("alert %s for sensor %s escalated to level %d (%s audience)",
			out.Record.AlertID, out.Record.SensorID, out.Record.EscalationLevel, out.Record.Audience)
		e.deps.Dispatcher.EmitAlert(sinks.AlertEvent{Event: sinks.EventEscalated, Record: out.Record})
	}
	metrics.ActiveAlerts.Set(float64(len(e.deps.Machine.ActiveAlerts())))
}

func (e *Engine) checkpointNow() {
	if e.deps.Checkpointer == nil {
		return
	}
	states := e.deps.Store.Export()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.deps.Checkpointer.SaveSensorStates(ctx, states); err != nil {
		e.log.Error("checkpoint failed for %d sensor states: %v", len(states), err)
		return
	}
	e.log.Debug("checkpointed %d sensor states", len(states))
}

// watchConnectivity flags sensors that have gone silent. Absence of
// readings is itself a signal on a water network.
func (e *Engine) watchConnectivity() {
	if e.cfg.OfflineAfter <= 0 {
		return
	}
	now := e.now()
	offline := 0
	seen := make(map[string]bool)
	for _, snap := range e.deps.Store.Sensors() {
		seen[snap.SensorID] = true
		silent := !snap.LastSeen.IsZero() && now.Sub(snap.LastSeen) > e.cfg.OfflineAfter
		if silent {
			offline++
			if !e.offline[snap.SensorID] {
				e.offline[snap.SensorID] = true
				e.log.Warn("sensor %s offline: silent for %s", snap.SensorID, now.Sub(snap.LastSeen).Round(time.Second))
			}
		} else if e.offline[snap.SensorID] {
			delete(e.offline, snap.SensorID)
			e.log.Info("sensor %s back online", snap.SensorID)
		}
	}
	// Deregistered sensors drop out of the snapshot list; forget them
	// here since this loop is the map's only writer.
	for id := range e.offline {
		if !seen[id] {
			delete(e.offline, id)
		}
	}
	metrics.OfflineSensors.Set(float64(offline))
	metrics.TrackedSensors.Set(float64(e.deps.Store.Count()))
}

// Ack acknowledges a sensor's active alert on behalf of an operator.
func (e *Engine) Ack(sensorID, by string) (models.AlertRecord, error) {
	out, err := e.deps.Machine.Ack(sensorID, by, e.now())
	if err != nil {
		return models.AlertRecord{}, err
	}
	if out.Action != alerts.ActionNone {
		metrics.AlertTransitions.WithLabelValues(string(out.Action)).Inc()
		e.deps.Dispatcher.EmitAlert(sinks.AlertEvent{Event: sinks.EventAcknowledged, Record: out.Record})
		e.log.Info("alert %s acknowledged by %s", out.Record.AlertID, by)
	}
	return out.Record, nil
}

// Deregister destroys a sensor's state and closes any active alert.
func (e *Engine) Deregister(sensorID string) bool {
	existed := e.deps.Store.Deregister(sensorID)
	if out := e.deps.Machine.Forget(sensorID, e.now()); out.Action != alerts.ActionNone {
		metrics.AlertTransitions.WithLabelValues(string(out.Action)).Inc()
		e.deps.Dispatcher.EmitAlert(sinks.AlertEvent{Event: sinks.EventClosed, Record: out.Record})
	}
	if existed {
		e.log.Info("sensor %s deregistered", sensorID)
	}
	return existed
}

// Sensors lists the snapshots of every tracked sensor.
func (e *Engine) Sensors() []models.SensorSnapshot {
	return e.deps.Store.Sensors()
}

// Sensor returns one sensor's snapshot.
func (e *Engine) Sensor(sensorID string) (models.SensorSnapshot, bool) {
	return e.deps.Store.Snapshot(sensorID)
}

// ActiveAlerts lists every non-closed alert record.
func (e *Engine) ActiveAlerts() []models.AlertRecord {
	return e.deps.Machine.ActiveAlerts()
}
