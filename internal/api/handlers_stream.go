package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/morganhq/relay/internal/service"
)

// StreamHandler serves live-stream ingest and cancellation.
type StreamHandler struct {
	svc           *service.Manager
	maxEventBytes int
}

func NewStreamHandler(svc *service.Manager, maxEventBytes int) *StreamHandler {
	return &StreamHandler{svc: svc, maxEventBytes: maxEventBytes}
}

// Ingest consumes a newline-delimited event stream for the conversation.
// Malformed lines are dropped by the tracker, not rejected here, so a
// partially bad stream still lands its good events.
func (h *StreamHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.svc.IngestEvents(id, r.Body, h.maxEventBytes)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events_applied": n,
			"stream_error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events_applied": n})
}

// Abort hard-cancels the live stream: partial correlation state is
// discarded so the next stream starts clean.
func (h *StreamHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.svc.Abort(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// Stop soft-cancels the live stream: later events are ignored, committed
// content stays.
func (h *StreamHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.svc.Stop(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
