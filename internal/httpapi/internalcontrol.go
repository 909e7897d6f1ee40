package httpapi

import (
	"net/http"
	"strconv"

	"github.com/aiopslab/taskrunner/internal/workerpool"
)

func (h *handlers) internalStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  h.deps.Manager.Count(),
		"states": h.deps.Manager.States(),
	})
}

// internalScale handles POST /api/v1/workers/internal/scale?num_workers=N,
// restricted to [0, 50] per spec.md §6; out-of-range values are a
// ValidationError rather than a silent clamp (spec.md §8 boundary:
// "scale?num_workers=51 → ValidationError").
func (h *handlers) internalScale(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("num_workers")
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeValidationError(w, r, h.deps.Logger, "query param 'num_workers' must be an integer")
		return
	}
	if n < 0 || n > workerpool.MaxWorkers {
		writeValidationError(w, r, h.deps.Logger, "num_workers must be in [0, 50]")
		return
	}

	if err := h.deps.Manager.SetCount(n); err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": h.deps.Manager.Count()})
}

// internalStart boots the Manager's background context. It deliberately
// does not use r.Context(), which is cancelled the moment this request
// completes — the pool must outlive the HTTP request that started it.
func (h *handlers) internalStart(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.Start(h.deps.RootContext)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handlers) internalStop(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
