package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/aquasentry/aquasentry/internal/alerts"
	"github.com/aquasentry/aquasentry/internal/metrics"
	"github.com/aquasentry/aquasentry/internal/models"
	"github.com/aquasentry/aquasentry/internal/sinks"
)

func (e *Engine) worker(ctx context.Context, idx int) error {
	p := e.partitions[idx]
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-p.queue:
			e.process(ctx, p, item)
		}
	}
}

func (p *partition) track(sensorID string) *sensorTrack {
	t, ok := p.tracked[sensorID]
	if !ok {
		t = &sensorTrack{}
		p.tracked[sensorID] = t
	}
	return t
}

// process runs one reading through the full path. It never fails: a
// prediction problem degrades to a stale carry-forward so classification
// and alerting always run.
func (e *Engine) process(ctx context.Context, p *partition, item queued) {
	r := item.reading

	snap := e.deps.Store.Update(r)
	if snap.OutOfOrder {
		metrics.OutOfOrderReadings.Inc()
	}

	fv := e.deps.Extractor.Extract(r, snap)
	track := p.track(r.SensorID)
	pred := e.predict(ctx, track, fv)

	level, h := e.deps.Classifier.Classify(pred, r.Zone, track.level, track.hysteresis)
	track.level, track.hysteresis = level, h
	metrics.RiskClassifications.WithLabelValues(string(r.Zone), level.String()).Inc()

	outcome := e.deps.Machine.Observe(r.SensorID, r.Zone, level, e.now())
	alertID := e.routeOutcome(outcome, r.SensorID)

	done := e.now()
	elapsed := done.Sub(item.enqueuedAt)
	if e.cfg.ReadingBudget > 0 && elapsed > e.cfg.ReadingBudget {
		metrics.BudgetExceeded.Inc()
		e.log.Warn("reading for sensor %s took %s, over the %s budget",
			r.SensorID, elapsed, e.cfg.ReadingBudget)
	}

	e.deps.Dispatcher.EmitResult(models.Result{
		ID:          uuid.NewString(),
		SensorID:    r.SensorID,
		Timestamp:   r.Timestamp,
		Zone:        r.Zone,
		Prediction:  pred,
		RiskLevel:   level,
		AlertID:     alertID,
		OutOfOrder:  snap.OutOfOrder,
		LatencyMS:   float64(elapsed.Microseconds()) / 1000.0,
		ProcessedAt: done,
	})
	metrics.ProcessingLatency.WithLabelValues(string(r.Zone)).Observe(elapsed.Seconds())
}

// predict bounds the ensemble call and falls back to the sensor's last
// prediction, marked stale, when it fails or times out. With no history a
// zero-probability stale prediction keeps alerting alive.
func (e *Engine) predict(ctx context.Context, track *sensorTrack, fv models.FeatureVector) models.Prediction {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PredictorTimeout)
	defer cancel()

	pred, err := e.deps.Predictor.Predict(pctx, fv)
	if err == nil {
		track.lastPrediction = pred
		track.hasPrediction = true
		metrics.ModelVotes.Observe(float64(pred.ModelCount))
		return pred
	}

	metrics.PredictionsStale.Inc()
	if track.hasPrediction {
		stale := track.lastPrediction
		stale.Stale = true
		e.log.Warn("prediction unavailable for sensor %s, carrying last forward: %v", fv.SensorID, err)
		return stale
	}
	metrics.InferenceUnavailable.Inc()
	e.log.Warn("prediction unavailable for sensor %s with no history: %v", fv.SensorID, err)
	return models.Prediction{Stale: true, GeneratedAt: e.now()}
}

// routeOutcome publishes the machine outcome and returns the alert ID the
// result should reference.
func (e *Engine) routeOutcome(out alerts.Outcome, sensorID string) string {
	if out.Action == alerts.ActionNone {
		if rec, ok := e.deps.Machine.Active(sensorID); ok {
			return rec.AlertID
		}
		return ""
	}

	metrics.AlertTransitions.WithLabelValues(string(out.Action)).Inc()

	var event string
	switch out.Action {
	case alerts.ActionOpened:
		event = sinks.EventOpened
		e.log.Warn("alert %s opened for sensor %s in %s zone, severity %s",
			out.Record.AlertID, out.Record.SensorID, out.Record.Zone, out.Record.Severity)
	case alerts.ActionRefreshed:
		event = sinks.EventRefreshed
	case alerts.ActionClosed:
		event = sinks.EventClosed
		e.log.Info("alert %s closed for sensor %s (%s)",
			out.Record.AlertID, out.Record.SensorID, out.Record.Resolution)
	default:
		event = string(out.Action)
	}
	e.deps.Dispatcher.EmitAlert(sinks.AlertEvent{Event: event, Record: out.Record})
	return out.Record.AlertID
}
