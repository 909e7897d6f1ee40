package httpapi

import (
	"net/http"
	"time"
)

func (h *handlers) serviceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "taskrunner",
		"version": h.deps.Version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
