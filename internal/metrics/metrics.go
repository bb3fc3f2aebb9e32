// Package metrics exports the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_readings_ingested_total",
		Help: "Readings accepted into the pipeline, by source.",
	}, []string{"source"})

	ReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_readings_rejected_total",
		Help: "Readings dropped at validation, by rejection reason.",
	}, []string{"reason"})

	OutOfOrderReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_readings_out_of_order_total",
		Help: "Readings that arrived with a non-increasing timestamp.",
	})

	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_backpressure_drops_total",
		Help: "Queued readings discarded because a partition queue overflowed.",
	}, []string{"partition"})

	ProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aquasentry_reading_processing_seconds",
		Help:    "End-to-end per-reading processing latency.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"zone"})

	BudgetExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_reading_budget_exceeded_total",
		Help: "Readings whose processing exceeded the configured budget.",
	})

	PredictionsStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_predictions_stale_total",
		Help: "Classifications that ran on a carried-forward prediction.",
	})

	InferenceUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_inference_unavailable_total",
		Help: "Readings classified with no prediction at all, not even a stale one.",
	})

	ModelVotes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aquasentry_ensemble_votes",
		Help:    "Number of model votes contributing to each prediction.",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})

	RiskClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_risk_classifications_total",
		Help: "Classified risk levels, by zone and level.",
	}, []string{"zone", "level"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_alert_transitions_total",
		Help: "Alert machine transitions, by action.",
	}, []string{"action"})

	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aquasentry_alerts_active",
		Help: "Currently open, escalated, or acknowledged alert records.",
	})

	TrackedSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aquasentry_sensors_tracked",
		Help: "Sensors with live state in the store.",
	})

	OfflineSensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aquasentry_sensors_offline",
		Help: "Tracked sensors silent past the offline threshold.",
	})

	PoisonMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_ingest_poison_total",
		Help: "Kafka messages committed and skipped because the payload failed to decode.",
	})

	GatewayPollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aquasentry_gateway_poll_failures_total",
		Help: "Failed SCADA gateway poll attempts.",
	})

	SinkWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_sink_write_failures_total",
		Help: "Failed sink writes, by sink.",
	}, []string{"sink"})

	SinkQueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aquasentry_sink_queue_drops_total",
		Help: "Sink payloads dropped because the dispatch queue was full.",
	}, []string{"kind"})
)
