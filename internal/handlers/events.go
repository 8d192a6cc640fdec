package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// HandleEvent handles POST /v1/events, an "object finalized" notification.
// 200 means done, filtered or permanently failed; 202 means queued; 503 asks
// the sender to redeliver.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.ObjectEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if ev.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	out, err := h.adapter.Handle(r.Context(), ev)
	if err != nil {
		h.logger.Error("failed to dispatch event", "object", ev.Name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to dispatch: "+err.Error())
		return
	}

	h.logger.Info("event handled",
		"object", ev.Name,
		"job", out.Job,
		"run_id", out.RunID,
		"queued", out.Queued)
	h.respond(w, out)
}
