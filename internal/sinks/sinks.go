// Package sinks defines the outbound interfaces of the engine and the
// asynchronous dispatcher that feeds them off the hot path.
package sinks

import (
	"context"

	"github.com/aquasentry/aquasentry/internal/models"
)

// Alert lifecycle event kinds carried to alert sinks. Refreshes update
// persisted records but are not notification-worthy.
const (
	EventOpened       = "opened"
	EventRefreshed    = "refreshed"
	EventEscalated    = "escalated"
	EventAcknowledged = "acknowledged"
	EventClosed       = "closed"
)

// AlertEvent is one alert lifecycle notification.
type AlertEvent struct {
	Event  string
	Record models.AlertRecord
}

// ResultSink receives every processed result. Implementations own their
// retry policy; the engine only counts failures.
type ResultSink interface {
	Name() string
	WriteResult(ctx context.Context, res models.Result) error
}

// AlertSink receives alert lifecycle events.
type AlertSink interface {
	Name() string
	WriteAlert(ctx context.Context, ev AlertEvent) error
}

// Nop discards everything. Used when an optional sink is disabled.
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) WriteResult(context.Context, models.Result) error { return nil }

func (Nop) WriteAlert(context.Context, AlertEvent) error { return nil }
