package handlers

import (
	"net/http"
	"runtime"
	"time"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version,omitempty"`
	Uptime       string `json:"uptime"`
	Mode         string `json:"mode"` // sync or async
	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	mode := "sync"
	if h.runs.Async() {
		mode = "async"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Mode:         mode,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	})
}
