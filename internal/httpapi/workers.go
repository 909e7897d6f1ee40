package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// registerWorkerRequest is the POST /api/v1/workers/register body
// (spec.md §6).
type registerWorkerRequest struct {
	WorkerID     string              `json:"worker_id"`
	BackendType  string              `json:"backend_type"`
	Capabilities capabilitiesRequest `json:"capabilities"`
	Metadata     map[string]any      `json:"metadata"`
}

type capabilitiesRequest struct {
	MaxParallelTasks  int      `json:"max_parallel_tasks"`
	SupportedProblems []string `json:"supported_problems"`
}

func (h *handlers) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, r, h.deps.Logger, "invalid request body")
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		writeValidationError(w, r, h.deps.Logger, "field 'worker_id' is required")
		return
	}

	caps := domain.Capabilities{
		MaxParallelTasks:  req.Capabilities.MaxParallelTasks,
		SupportedProblems: req.Capabilities.SupportedProblems,
	}
	worker, err := h.deps.Registry.Register(r.Context(), req.WorkerID, req.BackendType, caps, req.Metadata)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, workerResponse(worker))
}

func (h *handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.deps.Registry.List(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	out := make([]workerResponseBody, 0, len(workers))
	for _, wk := range workers {
		out = append(out, workerResponse(wk))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": out})
}

func (h *handlers) getWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, err := h.deps.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, workerResponse(worker))
}

type heartbeatRequest struct {
	Status        string  `json:"status"`
	CurrentTaskID *string `json:"current_task_id"`
}

func (h *handlers) heartbeatWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req heartbeatRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional; zero value means "idle, no task"

	status := domain.WorkerIdle
	if req.Status != "" {
		status = domain.WorkerStatus(req.Status)
	}

	if err := h.deps.Registry.Heartbeat(r.Context(), id, status, req.CurrentTaskID); err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// claimTask handles POST /api/v1/workers/{id}/claim for external
// workers; in-process workers claim via internal/workerpool directly.
func (h *handlers) claimTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	worker, err := h.deps.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}

	task, err := h.deps.Queue.Claim(r.Context(), id, worker.BackendType, worker.Capabilities.SupportedProblems)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskResponse(task)})
}

type resultRequest struct {
	Result map[string]any `json:"result"`
}

func (h *handlers) completeTask(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")
	taskID := chi.URLParam(r, "taskID")

	var req resultRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.deps.Store.CompleteTask(r.Context(), taskID, workerID, req.Result); err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type errorDetailsRequest struct {
	Error map[string]any `json:"error"`
}

func (h *handlers) failTask(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")
	taskID := chi.URLParam(r, "taskID")

	var req errorDetailsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.deps.Store.FailTask(r.Context(), taskID, workerID, req.Error); err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (h *handlers) workerStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, err := h.deps.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id":       worker.ID,
		"status":          worker.Status,
		"tasks_completed": worker.TasksCompleted,
		"tasks_failed":    worker.TasksFailed,
		"last_heartbeat":  worker.LastHeartbeat,
	})
}

type workerResponseBody struct {
	ID             string         `json:"id"`
	BackendType    string         `json:"backend_type"`
	Capabilities   any            `json:"capabilities"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         string         `json:"status"`
	LastHeartbeat  any            `json:"last_heartbeat"`
	CurrentTaskID  *string        `json:"current_task_id,omitempty"`
	TasksCompleted int64          `json:"tasks_completed"`
	TasksFailed    int64          `json:"tasks_failed"`
}

func workerResponse(w *domain.Worker) workerResponseBody {
	return workerResponseBody{
		ID:          w.ID,
		BackendType: w.BackendType,
		Capabilities: capabilitiesRequest{
			MaxParallelTasks:  w.Capabilities.MaxParallelTasks,
			SupportedProblems: w.Capabilities.SupportedProblems,
		},
		Metadata:       w.Metadata,
		Status:         string(w.Status),
		LastHeartbeat:  w.LastHeartbeat,
		CurrentTaskID:  w.CurrentTaskID,
		TasksCompleted: w.TasksCompleted,
		TasksFailed:    w.TasksFailed,
	}
}
