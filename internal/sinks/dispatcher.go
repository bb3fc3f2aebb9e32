package sinks

import (
	"context"
	"time"

	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/metrics"
	"github.com/aquasentry/aquasentry/internal/models"
)

// Config bounds the dispatch queues.
type Config struct {
	QueueDepth   int
	WriteTimeout time.Duration
}

// DefaultConfig returns the standard dispatcher configuration.
func DefaultConfig() Config {
	return Config{QueueDepth: 256, WriteTimeout: 10 * time.Second}
}

// Dispatcher decouples the processing hot path from sink I/O. Emit calls
// never block: payloads queue into bounded channels and a single delivery
// goroutine walks the registered sinks. A full queue drops the payload
// and counts it; a failing sink is counted and skipped.
type Dispatcher struct {
	cfg Config

	resultSinks []ResultSink
	alertSinks  []AlertSink

	results chan models.Result
	alerts  chan AlertEvent

	log *logger.Logger
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(cfg Config, resultSinks []ResultSink, alertSinks []AlertSink) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Dispatcher{
		cfg:         cfg,
		resultSinks: resultSinks,
		alertSinks:  alertSinks,
		results:     make(chan models.Result, cfg.QueueDepth),
		alerts:      make(chan AlertEvent, cfg.QueueDepth),
		log:         logger.Component("sinks"),
	}
}

// EmitResult queues a result for delivery without blocking.
func (d *Dispatcher) EmitResult(res models.Result) {
	select {
	case d.results <- res:
	default:
		metrics.SinkQueueDrops.WithLabelValues("result").Inc()
		d.log.Warn("result queue full, dropping result for sensor %s", res.SensorID)
	}
}

// EmitAlert queues an alert lifecycle event for delivery without blocking.
func (d *Dispatcher) EmitAlert(ev AlertEvent) {
	select {
	case d.alerts <- ev:
	default:
		metrics.SinkQueueDrops.WithLabelValues("alert").Inc()
		d.log.Warn("alert queue full, dropping %s event for sensor %s", ev.Event, ev.Record.SensorID)
	}
}

// Run delivers queued payloads until ctx is cancelled, then drains what is
// already queued so shutdown does not lose accepted work.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case res := <-d.results:
			d.deliverResult(res)
		case ev := <-d.alerts:
			d.deliverAlert(ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case res := <-d.results:
			d.deliverResult(res)
		case ev := <-d.alerts:
			d.deliverAlert(ev)
		default:
			return
		}
	}
}

// Deliveries run on their own timeout rather than the run context so a
// drain after cancellation can still flush.
func (d *Dispatcher) deliverResult(res models.Result) {
	for _, s := range d.resultSinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
		if err := s.WriteResult(ctx, res); err != nil {
			metrics.SinkWriteFailures.WithLabelValues(s.Name()).Inc()
			d.log.Error("result write to %s failed for sensor %s: %v", s.Name(), res.SensorID, err)
		}
		cancel()
	}
}

func (d *Dispatcher) deliverAlert(ev AlertEvent) {
	for _, s := range d.alertSinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
		if err := s.WriteAlert(ctx, ev); err != nil {
			metrics.SinkWriteFailures.WithLabelValues(s.Name()).Inc()
			d.log.Error("alert write to %s failed for sensor %s: %v", s.Name(), ev.Record.SensorID, err)
		}
		cancel()
	}
}
