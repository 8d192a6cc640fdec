// Package handlers exposes the pipeline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-derivative-pipeline/internal/trigger"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
)

// RunTracker reports run status. *workflows.WorkflowRunner satisfies it.
type RunTracker interface {
	Has(job string) bool
	Async() bool
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
	RecentRuns(ctx context.Context, limit int) ([]workflows.WorkflowStatus, error)
}

// Handlers holds the HTTP handlers
type Handlers struct {
	adapter *trigger.Adapter
	runs    RunTracker
	logger  *slog.Logger
	started time.Time
	version string
}

// New creates the handlers
func New(adapter *trigger.Adapter, runs RunTracker, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		adapter: adapter,
		runs:    runs,
		logger:  logger,
		started: time.Now(),
		version: version,
	}
}

// Router registers every route
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/events", h.HandleEvent).Methods(http.MethodPost)
	r.HandleFunc("/v1/process", h.HandleProcess).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs", h.HandleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{runID}", h.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// statusFor maps an outcome onto the HTTP status the event sender acts on
func statusFor(out *trigger.Outcome) int {
	switch {
	case out.Queued:
		return http.StatusAccepted
	case out.Transient():
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handlers) respond(w http.ResponseWriter, out *trigger.Outcome) {
	writeJSON(w, statusFor(out), out.Response())
}

