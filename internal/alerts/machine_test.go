package alerts

import (
	"testing"
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(DefaultConfig())
}

func TestOpenOnHigh(t *testing.T) {
	m := newTestMachine()

	out := m.Observe("WDN-0042", models.ZoneCritical, models.RiskCritical, t0)
	if out.Action != ActionOpened {
		t.Fatalf("action = %q, want opened", out.Action)
	}
	rec := out.Record
	if rec.AlertID == "" {
		t.Error("opened record missing alert ID")
	}
	if rec.State != models.AlertOpen {
		t.Errorf("state = %q, want open", rec.State)
	}
	if rec.EscalationLevel != 0 {
		t.Errorf("escalation level = %d, want 0", rec.EscalationLevel)
	}
	if rec.Severity != models.RiskCritical {
		t.Errorf("severity = %v", rec.Severity)
	}
	if rec.Audience != models.AudienceOperator {
		t.Errorf("audience = %q, want operator", rec.Audience)
	}
	if !rec.FirstSeen.Equal(t0) || !rec.LastSeen.Equal(t0) {
		t.Errorf("timestamps first=%v last=%v", rec.FirstSeen, rec.LastSeen)
	}
}

func TestLowAndMediumDoNotOpen(t *testing.T) {
	m := newTestMachine()

	if out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0); out.Action != ActionNone {
		t.Errorf("LOW opened an alert: %q", out.Action)
	}
	if out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskMedium, t0); out.Action != ActionNone {
		t.Errorf("MEDIUM opened an alert: %q", out.Action)
	}
	if _, ok := m.Active("WDN-0042"); ok {
		t.Error("no record should exist")
	}
}

// Repeated elevated observations refresh the one open record instead of
// opening duplicates.
func TestRefreshNeverDuplicates(t *testing.T) {
	m := newTestMachine()

	opened := m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0)
	if opened.Action != ActionOpened {
		t.Fatalf("setup: %q", opened.Action)
	}

	later := t0.Add(90 * time.Second)
	refreshed := m.Observe("WDN-0042", models.ZoneStandard, models.RiskCritical, later)
	if refreshed.Action != ActionRefreshed {
		t.Fatalf("action = %q, want refreshed", refreshed.Action)
	}
	if refreshed.Record.AlertID != opened.Record.AlertID {
		t.Error("refresh must keep the same alert ID")
	}
	if !refreshed.Record.LastSeen.Equal(later) {
		t.Errorf("last seen = %v, want %v", refreshed.Record.LastSeen, later)
	}
	if refreshed.Record.Severity != models.RiskCritical {
		t.Errorf("severity should rise to the observed maximum, got %v", refreshed.Record.Severity)
	}
	if !refreshed.Record.FirstSeen.Equal(t0) {
		t.Error("first seen must not move on refresh")
	}

	// Severity never drops back on a lower elevated observation.
	again := m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, later.Add(time.Minute))
	if again.Record.Severity != models.RiskCritical {
		t.Errorf("severity dropped to %v", again.Record.Severity)
	}

	if len(m.ActiveAlerts()) != 1 {
		t.Fatalf("active records = %d, want exactly 1", len(m.ActiveAlerts()))
	}
}

// A critical-zone alert left unacknowledged past its 5 minute budget
// escalates with a wider audience; the budget then restarts.
func TestEscalationAfterBudget(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneCritical, models.RiskCritical, t0)

	// Within budget: nothing happens.
	if out := m.Sweep(t0.Add(4 * time.Minute)); len(out) != 0 {
		t.Fatalf("sweep inside budget escalated %d records", len(out))
	}

	// Six minutes in: one escalation.
	out := m.Sweep(t0.Add(6 * time.Minute))
	if len(out) != 1 {
		t.Fatalf("sweep returned %d outcomes, want 1", len(out))
	}
	rec := out[0].Record
	if out[0].Action != ActionEscalated || rec.State != models.AlertEscalated {
		t.Fatalf("outcome %q state %q", out[0].Action, rec.State)
	}
	if rec.EscalationLevel != 1 {
		t.Errorf("escalation level = %d, want 1", rec.EscalationLevel)
	}
	if rec.Audience != models.AudienceSupervisor {
		t.Errorf("audience = %q, want supervisor", rec.Audience)
	}

	// Budget restarted at the escalation: quiet until it lapses again.
	if out := m.Sweep(t0.Add(8 * time.Minute)); len(out) != 0 {
		t.Fatal("budget should have restarted at escalation")
	}
	out = m.Sweep(t0.Add(12 * time.Minute))
	if len(out) != 1 || out[0].Record.EscalationLevel != 2 {
		t.Fatalf("second escalation missing: %+v", out)
	}
	if out[0].Record.Audience != models.AudienceEmergency {
		t.Errorf("audience = %q, want emergency", out[0].Record.Audience)
	}
}

func TestAckStopsEscalation(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneCritical, models.RiskHigh, t0)

	out, err := m.Ack("WDN-0042", "operator-7", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if out.Action != ActionAcknowledged {
		t.Fatalf("action = %q", out.Action)
	}
	if out.Record.State != models.AlertAcknowledged || out.Record.AcknowledgedBy != "operator-7" {
		t.Errorf("record %+v", out.Record)
	}

	// No escalations once acknowledged, however long it sits.
	if out := m.Sweep(t0.Add(2 * time.Hour)); len(out) != 0 {
		t.Error("acknowledged alert escalated")
	}

	// Ack is idempotent.
	again, err := m.Ack("WDN-0042", "operator-8", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second Ack: %v", err)
	}
	if again.Action != ActionNone || again.Record.AcknowledgedBy != "operator-7" {
		t.Errorf("second ack mutated the record: %+v", again.Record)
	}
}

func TestAckWithoutAlert(t *testing.T) {
	m := newTestMachine()
	if _, err := m.Ack("WDN-0042", "operator-7", t0); err != ErrNoActiveAlert {
		t.Fatalf("err = %v, want ErrNoActiveAlert", err)
	}
}

func TestCloseAfterConsecutiveLow(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0)

	if out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(time.Minute)); out.Action != ActionNone {
		t.Fatalf("first LOW should not close, got %q", out.Action)
	}

	closedAt := t0.Add(2 * time.Minute)
	out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, closedAt)
	if out.Action != ActionClosed {
		t.Fatalf("second LOW action = %q, want closed", out.Action)
	}
	if out.Record.State != models.AlertClosed {
		t.Errorf("state = %q", out.Record.State)
	}
	if out.Record.Resolution != models.ResolutionAutoResolved {
		t.Errorf("resolution = %q, want auto_resolved", out.Record.Resolution)
	}
	if out.Record.ClosedAt == nil || !out.Record.ClosedAt.Equal(closedAt) {
		t.Errorf("closed at = %v", out.Record.ClosedAt)
	}
	if _, ok := m.Active("WDN-0042"); ok {
		t.Error("slot should be empty after close")
	}

	// The slot reopens cleanly on the next elevated observation.
	reopened := m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0.Add(3*time.Minute))
	if reopened.Action != ActionOpened {
		t.Fatalf("reopen action = %q", reopened.Action)
	}
	if reopened.Record.AlertID == out.Record.AlertID {
		t.Error("reopened record must get a fresh alert ID")
	}
	if reopened.Record.EscalationLevel != 0 {
		t.Errorf("reopened escalation level = %d", reopened.Record.EscalationLevel)
	}
}

func TestAcknowledgedCloseKeepsResolution(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0)
	if _, err := m.Ack("WDN-0042", "operator-7", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(2*time.Minute))
	out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(3*time.Minute))
	if out.Action != ActionClosed {
		t.Fatalf("action = %q", out.Action)
	}
	if out.Record.Resolution != models.ResolutionAcknowledged {
		t.Errorf("resolution = %q, want acknowledged", out.Record.Resolution)
	}
}

// An interleaved non-LOW observation restarts the close count.
func TestMediumBreaksLowStreak(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0)

	m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(1*time.Minute))
	m.Observe("WDN-0042", models.ZoneStandard, models.RiskMedium, t0.Add(2*time.Minute))
	out := m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(3*time.Minute))
	if out.Action == ActionClosed {
		t.Fatal("LOW, MEDIUM, LOW must not close with two confirmations required")
	}
	out = m.Observe("WDN-0042", models.ZoneStandard, models.RiskLow, t0.Add(4*time.Minute))
	if out.Action != ActionClosed {
		t.Fatalf("second consecutive LOW should close, got %q", out.Action)
	}
}

func TestForget(t *testing.T) {
	m := newTestMachine()
	m.Observe("WDN-0042", models.ZoneStandard, models.RiskHigh, t0)

	out := m.Forget("WDN-0042", t0.Add(time.Minute))
	if out.Action != ActionClosed {
		t.Fatalf("forget action = %q, want closed", out.Action)
	}
	if out.Record.Resolution != models.ResolutionAutoResolved {
		t.Errorf("resolution = %q", out.Record.Resolution)
	}
	if len(m.ActiveAlerts()) != 0 {
		t.Error("machine should be empty")
	}

	if out := m.Forget("WDN-0042", t0.Add(2 * time.Minute)); out.Action != ActionNone {
		t.Errorf("forgetting an unknown sensor did %q", out.Action)
	}
}

func TestRestore(t *testing.T) {
	m := newTestMachine()
	open := models.AlertRecord{
		AlertID:  "a-1",
		SensorID: "WDN-0001",
		Zone:     models.ZoneCritical,
		Severity: models.RiskHigh,
		State:    models.AlertOpen,
	}
	acked := models.AlertRecord{
		AlertID:        "a-2",
		SensorID:       "WDN-0002",
		Zone:           models.ZoneStandard,
		Severity:       models.RiskCritical,
		State:          models.AlertAcknowledged,
		AcknowledgedBy: "operator-7",
	}
	closed := models.AlertRecord{
		AlertID:  "a-3",
		SensorID: "WDN-0003",
		State:    models.AlertClosed,
	}

	m.Restore([]models.AlertRecord{open, acked, closed}, t0)

	if got := m.ActiveAlerts(); len(got) != 2 {
		t.Fatalf("restored %d active records, want 2", len(got))
	}

	// The restored open record gets a fresh budget from the restore time.
	if out := m.Sweep(t0.Add(4 * time.Minute)); len(out) != 0 {
		t.Error("restored record escalated inside fresh budget")
	}
	out := m.Sweep(t0.Add(6 * time.Minute))
	if len(out) != 1 || out[0].Record.AlertID != "a-1" {
		t.Fatalf("sweep after restore: %+v", out)
	}

	// The acknowledged record never escalates.
	if rec, ok := m.Active("WDN-0002"); !ok || rec.State != models.AlertAcknowledged {
		t.Errorf("acked record state: %+v ok=%v", rec, ok)
	}
}
