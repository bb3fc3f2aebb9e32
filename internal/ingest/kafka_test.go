package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/models"
)

type fakeSubmitter struct {
	submitted []models.RawReading
	sources   []string
	err       error
}

func (f *fakeSubmitter) Submit(raw models.RawReading, source string) error {
	f.submitted = append(f.submitted, raw)
	f.sources = append(f.sources, source)
	return f.err
}

func TestNewConsumerValidation(t *testing.T) {
	sub := &fakeSubmitter{}

	tests := []struct {
		name    string
		cfg     Config
		sub     Submitter
		wantErr bool
	}{
		{
			name:    "no brokers",
			cfg:     Config{Topic: "sensor-readings", GroupID: "aquasentry"},
			sub:     sub,
			wantErr: true,
		},
		{
			name:    "no topic",
			cfg:     Config{Brokers: []string{"localhost:9092"}, GroupID: "aquasentry"},
			sub:     sub,
			wantErr: true,
		},
		{
			name:    "nil submitter",
			cfg:     Config{Brokers: []string{"localhost:9092"}, Topic: "sensor-readings"},
			sub:     nil,
			wantErr: true,
		},
		{
			name:    "valid",
			cfg:     Config{Brokers: []string{"localhost:9092"}, Topic: "sensor-readings", GroupID: "aquasentry"},
			sub:     sub,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConsumer(tt.cfg, tt.sub)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConsumer: %v", err)
			}
			if err := c.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestConsumeSubmitsDecodedReading(t *testing.T) {
	sub := &fakeSubmitter{}
	c := &Consumer{sub: sub, log: logger.Component("ingest")}

	payload := `{"sensor_id":"WS-001","timestamp":"2026-03-14T08:00:00Z","zone":"critical",` +
		`"pressure_bar":4.2,"flow_rate_lps":12.5,"temperature_c":18.0}`
	c.consume(7, []byte(payload))

	if len(sub.submitted) != 1 {
		t.Fatalf("submitted %d readings, want 1", len(sub.submitted))
	}
	raw := sub.submitted[0]
	if raw.SensorID != "WS-001" {
		t.Errorf("sensor id = %q, want WS-001", raw.SensorID)
	}
	if raw.Timestamp == nil || !raw.Timestamp.Equal(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v, want 2026-03-14T08:00:00Z", raw.Timestamp)
	}
	if raw.PressureBar == nil || *raw.PressureBar != 4.2 {
		t.Errorf("pressure = %v, want 4.2", raw.PressureBar)
	}
	if raw.Zone != "critical" {
		t.Errorf("zone = %q, want critical", raw.Zone)
	}
	if sub.sources[0] != "kafka" {
		t.Errorf("source = %q, want kafka", sub.sources[0])
	}
}

func TestConsumeSkipsPoisonPayload(t *testing.T) {
	sub := &fakeSubmitter{}
	c := &Consumer{sub: sub, log: logger.Component("ingest")}

	c.consume(3, []byte(`{"sensor_id":`))

	if len(sub.submitted) != 0 {
		t.Fatalf("submitted %d readings from poison payload, want 0", len(sub.submitted))
	}
}

func TestConsumeToleratesRejectedReading(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("reading rejected: missing_field")}
	c := &Consumer{sub: sub, log: logger.Component("ingest")}

	c.consume(0, []byte(`{"sensor_id":"WS-002","timestamp":"2026-03-14T08:00:00Z"}`))

	if len(sub.submitted) != 1 {
		t.Fatalf("submit attempts = %d, want 1", len(sub.submitted))
	}
}
