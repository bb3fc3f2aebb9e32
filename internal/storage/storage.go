// Package storage provides SQLite-backed persistence for assessment
// results, the alert archive, and sensor-state checkpoints.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aquasentry/aquasentry/internal/models"
	"github.com/aquasentry/aquasentry/internal/sinks"
)

// Storage wraps a SQLite database for all persistence operations. It is
// wired into the pipeline as a result and alert sink and as the
// checkpointer for sensor state.
type Storage struct {
	db         *sql.DB
	maxResults int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/aquasentry/data.db.
func New(maxResults int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "aquasentry", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxResults: maxResults}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Name implements the sink interfaces.
func (s *Storage) Name() string { return "sqlite" }

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS results (
			id           TEXT PRIMARY KEY,
			sensor_id    TEXT NOT NULL,
			ts           INTEGER NOT NULL,
			zone         TEXT NOT NULL,
			leak_prob    REAL NOT NULL,
			burst_prob   REAL NOT NULL,
			confidence   REAL NOT NULL,
			model_votes  TEXT NOT NULL DEFAULT '{}',
			model_count  INTEGER NOT NULL DEFAULT 0,
			stale        INTEGER NOT NULL DEFAULT 0,
			generated_at INTEGER NOT NULL,
			risk_level   TEXT NOT NULL,
			alert_id     TEXT NOT NULL DEFAULT '',
			out_of_order INTEGER NOT NULL DEFAULT 0,
			latency_ms   REAL NOT NULL DEFAULT 0,
			processed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			sensor_id        TEXT NOT NULL,
			zone             TEXT NOT NULL,
			severity         TEXT NOT NULL,
			state            TEXT NOT NULL,
			first_seen       INTEGER NOT NULL,
			last_seen        INTEGER NOT NULL,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			audience         TEXT NOT NULL,
			acknowledged_by  TEXT NOT NULL DEFAULT '',
			acknowledged_at  INTEGER,
			resolution       TEXT NOT NULL DEFAULT '',
			closed_at        INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_states (
			sensor_id      TEXT PRIMARY KEY,
			location       TEXT NOT NULL DEFAULT '',
			zone           TEXT NOT NULL,
			window         TEXT NOT NULL DEFAULT '[]',
			calibrated_at  INTEGER NOT NULL,
			last_timestamp INTEGER NOT NULL,
			last_seen      INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_sensor_ts ON results(sensor_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_results_processed ON results(processed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sensor ON alerts(sensor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteResult persists one assessment result and enforces the row cap,
// pruning the oldest rows past maxResults.
func (s *Storage) WriteResult(ctx context.Context, res models.Result) error {
	votesJSON, err := json.Marshal(res.Prediction.ModelVotes)
	if err != nil {
		return fmt.Errorf("failed to marshal model votes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO results
			(id, sensor_id, ts, zone, leak_prob, burst_prob, confidence,
			 model_votes, model_count, stale, generated_at, risk_level,
			 alert_id, out_of_order, latency_ms, processed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.SensorID, res.Timestamp.UnixNano(), string(res.Zone),
		res.Prediction.LeakProbability, res.Prediction.BurstProbability, res.Prediction.Confidence,
		string(votesJSON), res.Prediction.ModelCount, boolToInt(res.Prediction.Stale),
		res.Prediction.GeneratedAt.UnixNano(), res.RiskLevel.String(),
		res.AlertID, boolToInt(res.OutOfOrder), res.LatencyMS, res.ProcessedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM results WHERE id NOT IN (
			SELECT id FROM results ORDER BY processed_at DESC LIMIT ?
		)`, s.maxResults); err != nil {
		return fmt.Errorf("failed to enforce result cap: %w", err)
	}

	return tx.Commit()
}

// WriteAlert upserts the alert record carried by a lifecycle event.
// Closed records stay archived under their alert ID.
func (s *Storage) WriteAlert(ctx context.Context, ev sinks.AlertEvent) error {
	rec := ev.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts
			(id, sensor_id, zone, severity, state, first_seen, last_seen,
			 escalation_level, audience, acknowledged_by, acknowledged_at,
			 resolution, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.AlertID, rec.SensorID, string(rec.Zone), rec.Severity.String(), string(rec.State),
		rec.FirstSeen.UnixNano(), rec.LastSeen.UnixNano(),
		rec.EscalationLevel, rec.Audience, rec.AcknowledgedBy, nanoOrNil(rec.AcknowledgedAt),
		rec.Resolution, nanoOrNil(rec.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", rec.AlertID, err)
	}
	return nil
}

// SaveSensorStates replaces the checkpoint with the given state set. The
// rolling window is JSON-encoded per sensor. Sensors absent from the set
// (deregistered since the last checkpoint) drop out of the table.
func (s *Storage) SaveSensorStates(ctx context.Context, states []models.SensorState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM sensor_states`); err != nil {
		return fmt.Errorf("failed to clear sensor states: %w", err)
	}
	for _, st := range states {
		windowJSON, err := json.Marshal(st.Window)
		if err != nil {
			return fmt.Errorf("failed to marshal window for %s: %w", st.SensorID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sensor_states
				(sensor_id, location, zone, window, calibrated_at, last_timestamp, last_seen, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			st.SensorID, st.Location, string(st.Zone), string(windowJSON), st.CalibratedAt.UnixNano(),
			st.LastTimestamp.UnixNano(), st.LastSeen.UnixNano(), st.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to save state for %s: %w", st.SensorID, err)
		}
	}
	return tx.Commit()
}

// LoadSensorStates returns the checkpointed sensor states for startup
// restore, ordered by sensor ID.
func (s *Storage) LoadSensorStates(ctx context.Context) ([]models.SensorState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_id, location, zone, window, calibrated_at, last_timestamp, last_seen, updated_at
		FROM sensor_states ORDER BY sensor_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor states: %w", err)
	}
	defer rows.Close()

	var states []models.SensorState
	for rows.Next() {
		var st models.SensorState
		var zone, windowJSON string
		var calibratedAt, lastTS, lastSeen, updatedAt int64

		if err := rows.Scan(&st.SensorID, &st.Location, &zone, &windowJSON, &calibratedAt, &lastTS, &lastSeen, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sensor state: %w", err)
		}
		if err := json.Unmarshal([]byte(windowJSON), &st.Window); err != nil {
			return nil, fmt.Errorf("failed to unmarshal window for %s: %w", st.SensorID, err)
		}
		st.Zone = models.Zone(zone)
		st.CalibratedAt = time.Unix(0, calibratedAt)
		st.LastTimestamp = time.Unix(0, lastTS)
		st.LastSeen = time.Unix(0, lastSeen)
		st.UpdatedAt = time.Unix(0, updatedAt)
		states = append(states, st)
	}
	return states, rows.Err()
}

// LoadActiveAlerts returns every non-closed alert record for startup
// restore into the alert machine.
func (s *Storage) LoadActiveAlerts(ctx context.Context) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertCols+` FROM alerts WHERE state != ? ORDER BY sensor_id`,
		string(models.AlertClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// RecentAlerts returns the newest alert records, closed ones included,
// most recently touched first.
func (s *Storage) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertCols+` FROM alerts ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// RecentResults returns the newest results, most recent first. An empty
// sensorID spans all sensors.
func (s *Storage) RecentResults(ctx context.Context, sensorID string, limit int) ([]models.Result, error) {
	var rows *sql.Rows
	var err error
	if sensorID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+resultCols+` FROM results ORDER BY processed_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+resultCols+` FROM results WHERE sensor_id = ? ORDER BY processed_at DESC LIMIT ?`,
			sensorID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []models.Result{}
	for rows.Next() {
		res, err := scanResult(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

const resultCols = `id, sensor_id, ts, zone, leak_prob, burst_prob, confidence,
	model_votes, model_count, stale, generated_at, risk_level,
	alert_id, out_of_order, latency_ms, processed_at`

func scanResult(scan func(...any) error) (models.Result, error) {
	var res models.Result
	var zone, votesJSON, riskLevel string
	var ts, generatedAt, processedAt int64
	var stale, outOfOrder int

	err := scan(
		&res.ID, &res.SensorID, &ts, &zone,
		&res.Prediction.LeakProbability, &res.Prediction.BurstProbability, &res.Prediction.Confidence,
		&votesJSON, &res.Prediction.ModelCount, &stale, &generatedAt, &riskLevel,
		&res.AlertID, &outOfOrder, &res.LatencyMS, &processedAt,
	)
	if err != nil {
		return models.Result{}, err
	}
	if err := json.Unmarshal([]byte(votesJSON), &res.Prediction.ModelVotes); err != nil {
		return models.Result{}, fmt.Errorf("failed to unmarshal model votes: %w", err)
	}
	level, err := models.ParseRiskLevel(riskLevel)
	if err != nil {
		return models.Result{}, err
	}
	res.Zone = models.Zone(zone)
	res.RiskLevel = level
	res.Timestamp = time.Unix(0, ts)
	res.Prediction.Stale = stale != 0
	res.Prediction.GeneratedAt = time.Unix(0, generatedAt)
	res.OutOfOrder = outOfOrder != 0
	res.ProcessedAt = time.Unix(0, processedAt)
	return res, nil
}

const alertCols = `id, sensor_id, zone, severity, state, first_seen, last_seen,
	escalation_level, audience, acknowledged_by, acknowledged_at,
	resolution, closed_at`

func collectAlerts(rows *sql.Rows) ([]models.AlertRecord, error) {
	records := []models.AlertRecord{}
	for rows.Next() {
		rec, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAlert(scan func(...any) error) (models.AlertRecord, error) {
	var rec models.AlertRecord
	var zone, severity, state string
	var firstSeen, lastSeen int64
	var ackedAt, closedAt sql.NullInt64

	err := scan(
		&rec.AlertID, &rec.SensorID, &zone, &severity, &state,
		&firstSeen, &lastSeen, &rec.EscalationLevel, &rec.Audience,
		&rec.AcknowledgedBy, &ackedAt, &rec.Resolution, &closedAt,
	)
	if err != nil {
		return models.AlertRecord{}, err
	}
	level, err := models.ParseRiskLevel(severity)
	if err != nil {
		return models.AlertRecord{}, err
	}
	rec.Zone = models.Zone(zone)
	rec.Severity = level
	rec.State = models.AlertState(state)
	rec.FirstSeen = time.Unix(0, firstSeen)
	rec.LastSeen = time.Unix(0, lastSeen)
	rec.AcknowledgedAt = timeOrNil(ackedAt)
	rec.ClosedAt = timeOrNil(closedAt)
	return rec, nil
}

func nanoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeOrNil(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
