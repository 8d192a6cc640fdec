package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tendant/simple-derivative-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// HandleProcess handles POST /v1/process - runs or enqueues a job directly
func (h *Handlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.ObjectKey == "" {
		writeError(w, http.StatusBadRequest, "object_key is required")
		return
	}
	if req.Job == "" {
		writeError(w, http.StatusBadRequest, "job is required")
		return
	}
	if !h.runs.Has(req.Job) {
		writeError(w, http.StatusBadRequest, "unknown job: "+req.Job)
		return
	}

	h.logger.Info("processing request", "object", req.ObjectKey, "job", req.Job)

	out, err := h.adapter.Dispatch(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to dispatch request", "object", req.ObjectKey, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch: "+err.Error())
		return
	}
	h.respond(w, out)
}

// HandleStatus handles GET /v1/runs/{runID} - returns workflow status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.runs.Async() {
		writeError(w, http.StatusNotImplemented, "run status requires the durable queue")
		return
	}

	runID := mux.Vars(r)["runID"]
	status, err := h.runs.GetStatus(r.Context(), runID)
	if errors.Is(err, dbosruntime.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run status", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleListRuns handles GET /v1/runs?limit=N
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.runs.Async() {
		writeError(w, http.StatusNotImplemented, "run listing requires the durable queue")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
