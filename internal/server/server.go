// Package server exposes the read and registration API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kindredcircl/healthd/internal/health"
	"github.com/kindredcircl/healthd/internal/metrics"
	"github.com/kindredcircl/healthd/internal/registry"
	"github.com/kindredcircl/healthd/internal/storage"
)

// Store defines the storage queries the server needs.
type Store interface {
	AllLatest(ctx context.Context) ([]storage.Probe, error)
	LatestOutcome(ctx context.Context, target string) (*storage.Probe, error)
	TargetHistory(ctx context.Context, target string, limit, offset int) ([]storage.Probe, int, error)
	UptimePercent(ctx context.Context, target string, last int) (float64, error)
	Transitions(ctx context.Context, target string, limit int) ([]storage.Transition, error)
}

// HealthSource exposes current health states.
type HealthSource interface {
	Status(targetID string) (health.State, bool)
}

// MetricsSource exposes closed metrics windows.
type MetricsSource interface {
	Windows(targetID string, from, to time.Time) []metrics.Window
}

// Server holds the chi router and its dependencies.
type Server struct {
	registry *registry.Registry
	states   HealthSource
	windows  MetricsSource
	store    Store
	router   chi.Router
	logger   *slog.Logger
}

// New creates a Server and registers all routes. Pass nil logger to use the
// default logger.
func New(reg *registry.Registry, states HealthSource, windows MetricsSource, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: reg,
		states:   states,
		windows:  windows,
		store:    store,
		router:   chi.NewRouter(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/targets", s.handleListTargets)
	r.Post("/api/targets", s.handleRegisterTarget)
	r.Get("/api/targets/{id}", s.handleGetTarget)
	r.Delete("/api/targets/{id}", s.handleDeregisterTarget)
	r.Get("/api/targets/{id}/history", s.handleTargetHistory)
	r.Get("/api/targets/{id}/metrics", s.handleTargetMetrics)
	r.Get("/api/targets/{id}/transitions", s.handleTargetTransitions)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type targetDetail struct {
	ID                  string     `json:"id"`
	Protocol            string     `json:"protocol"`
	Address             string     `json:"address"`
	Interval            string     `json:"interval"`
	Status              string     `json:"status"`
	ConsecutiveFailures uint       `json:"consecutive_failures"`
	LatencyMs           int64      `json:"latency_ms"`
	UptimePct           float64    `json:"uptime_percent"`
	LastChecked         *time.Time `json:"last_checked"`
}

func (s *Server) targetDetail(ctx context.Context, t registry.Target) targetDetail {
	d := targetDetail{
		ID:       t.ID,
		Protocol: string(t.Protocol),
		Address:  t.Address,
		Interval: t.Interval.String(),
		Status:   string(health.StatusUnknown),
	}
	if st, ok := s.states.Status(t.ID); ok {
		d.Status = string(st.Status)
		d.ConsecutiveFailures = st.ConsecutiveFailures
	}
	if latest, err := s.store.LatestOutcome(ctx, t.ID); err == nil && latest != nil {
		d.LatencyMs = latest.LatencyMs
		ts := latest.ProbedAt
		d.LastChecked = &ts
		pct, _ := s.store.UptimePercent(ctx, t.ID, 100)
		d.UptimePct = pct
	}
	return d
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.registry.List()
	details := make([]targetDetail, 0, len(targets))
	for _, t := range targets {
		details = append(details, s.targetDetail(r.Context(), t))
	}
	writeJSON(w, http.StatusOK, details)
}

type registerRequest struct {
	ID               string `json:"id"`
	Protocol         string `json:"protocol"`
	Address          string `json:"address"`
	Interval         string `json:"interval"`
	Timeout          string `json:"timeout"`
	RetryCount       uint   `json:"retry_count"`
	FailureThreshold uint   `json:"failure_threshold"`
}

func (s *Server) handleRegisterTarget(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t := registry.Target{
		ID:               req.ID,
		Protocol:         registry.Protocol(req.Protocol),
		Address:          req.Address,
		RetryCount:       req.RetryCount,
		FailureThreshold: req.FailureThreshold,
	}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid interval: "+err.Error())
			return
		}
		t.Interval = d
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		t.Timeout = d
	}

	stored, err := s.registry.Register(t)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicate) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleDeregisterTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Deregister(id); err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type targetResponse struct {
	targetDetail
	Config       registry.Target `json:"config"`
	RecentProbes []storage.Probe `json:"recent_probes"`
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	history, _, err := s.store.TargetHistory(r.Context(), id, 10, 0)
	if err != nil {
		s.logger.Error("TargetHistory", "target", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, targetResponse{
		targetDetail: s.targetDetail(r.Context(), t),
		Config:       t,
		RecentProbes: history,
	})
}

type historyResponse struct {
	Probes []storage.Probe `json:"probes"`
	Total  int             `json:"total"`
}

func (s *Server) handleTargetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	probes, total, err := s.store.TargetHistory(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.Error("TargetHistory", "target", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Probes: probes,
		Total:  total,
	})
}

type windowView struct {
	Start        time.Time         `json:"window_start"`
	End          time.Time         `json:"window_end"`
	Count        uint64            `json:"count"`
	SuccessCount uint64            `json:"success_count"`
	AvgLatencyMs int64             `json:"avg_latency_ms"`
	ErrorRate    float64           `json:"error_rate"`
	Errors       map[string]uint64 `json:"error_histogram"`
}

func (s *Server) handleTargetMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from parameter (want RFC3339)")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to parameter (want RFC3339)")
			return
		}
		to = t
	}

	windows := s.windows.Windows(id, from, to)
	views := make([]windowView, 0, len(windows))
	for _, win := range windows {
		errs := make(map[string]uint64, len(win.Errors))
		for k, v := range win.Errors {
			errs[string(k)] = v
		}
		views = append(views, windowView{
			Start:        win.Start,
			End:          win.End,
			Count:        win.Count,
			SuccessCount: win.SuccessCount,
			AvgLatencyMs: win.AvgLatency().Milliseconds(),
			ErrorRate:    win.ErrorRate(),
			Errors:       errs,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTargetTransitions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	transitions, err := s.store.Transitions(r.Context(), id, 50)
	if err != nil {
		s.logger.Error("Transitions", "target", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
