// Package api exposes the HTTP surface: reading ingest, sensor and alert
// queries, operator acknowledgments, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquasentry/aquasentry/internal/alerts"
	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/models"
)

const defaultHistoryLimit = 50

// Pipeline is the engine surface the API serves.
type Pipeline interface {
	Submit(raw models.RawReading, source string) error
	Ack(sensorID, by string) (models.AlertRecord, error)
	Deregister(sensorID string) bool
	Sensors() []models.SensorSnapshot
	Sensor(sensorID string) (models.SensorSnapshot, bool)
	ActiveAlerts() []models.AlertRecord
}

// History serves archived alerts and results. The storage layer
// satisfies this.
type History interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error)
	RecentResults(ctx context.Context, sensorID string, limit int) ([]models.Result, error)
}

// Config holds HTTP server settings.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests to the pipeline and the archive.
type Server struct {
	cfg     Config
	router  *mux.Router
	pipe    Pipeline
	history History
	log     *logger.Logger
}

// NewServer wires the route table.
func NewServer(cfg Config, pipe Pipeline, history History) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		pipe:    pipe,
		history: history,
		log:     logger.Component("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings", s.ingestHandler).Methods("POST")
	api.HandleFunc("/sensors", s.listSensorsHandler).Methods("GET")
	api.HandleFunc("/sensors/{sensor_id}", s.getSensorHandler).Methods("GET")
	api.HandleFunc("/sensors/{sensor_id}", s.deregisterSensorHandler).Methods("DELETE")
	api.HandleFunc("/alerts", s.listAlertsHandler).Methods("GET")
	api.HandleFunc("/alerts/history", s.alertHistoryHandler).Methods("GET")
	api.HandleFunc("/alerts/{sensor_id}/ack", s.ackHandler).Methods("POST")
	api.HandleFunc("/results", s.resultsHandler).Methods("GET")
}

// Handler returns the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", s.cfg.ListenAddr, err)
			return
		}
		errCh <- nil
	}()

	s.log.Info("listening on %s", s.cfg.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var raw models.RawReading
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}

	if err := s.pipe.Submit(raw, "http"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// sensorResponse is the wire form of a sensor snapshot.
type sensorResponse struct {
	SensorID       string    `json:"sensor_id"`
	Zone           string    `json:"zone"`
	WindowCount    int       `json:"window_count"`
	PressureMean   float64   `json:"pressure_mean"`
	PressureStdDev float64   `json:"pressure_stddev"`
	FlowMean       float64   `json:"flow_mean"`
	FlowStdDev     float64   `json:"flow_stddev"`
	CalibratedAt   time.Time `json:"calibrated_at"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	LastSeen       time.Time `json:"last_seen"`
}

func toSensorResponse(snap models.SensorSnapshot) sensorResponse {
	return sensorResponse{
		SensorID:       snap.SensorID,
		Zone:           string(snap.Zone),
		WindowCount:    snap.WindowCount,
		PressureMean:   snap.PressureMean,
		PressureStdDev: snap.PressureStdDev,
		FlowMean:       snap.FlowMean,
		FlowStdDev:     snap.FlowStdDev,
		CalibratedAt:   snap.CalibratedAt,
		LastTimestamp:  snap.LastTimestamp,
		LastSeen:       snap.LastSeen,
	}
}

func (s *Server) listSensorsHandler(w http.ResponseWriter, r *http.Request) {
	snaps := s.pipe.Sensors()
	out := make([]sensorResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toSensorResponse(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSensorHandler(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor_id"]
	snap, ok := s.pipe.Sensor(sensorID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sensor: "+sensorID)
		return
	}
	writeJSON(w, http.StatusOK, toSensorResponse(snap))
}

func (s *Server) deregisterSensorHandler(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor_id"]
	if !s.pipe.Deregister(sensorID) {
		writeError(w, http.StatusNotFound, "unknown sensor: "+sensorID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	records := s.pipe.ActiveAlerts()
	if records == nil {
		records = []models.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) ackHandler(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor_id"]

	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}
	by := body.By
	if by == "" {
		by = "api"
	}

	rec, err := s.pipe.Ack(sensorID, by)
	if errors.Is(err, alerts.ErrNoActiveAlert) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) alertHistoryHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.RecentAlerts(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	results, err := s.history.RecentResults(r.Context(), sensorID, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Debug("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}
