package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// createTaskRequest is the POST /api/v1/tasks body (spec.md §6).
type createTaskRequest struct {
	ProblemID  string         `json:"problem_id"`
	Parameters map[string]any `json:"parameters"`
	Priority   *int           `json:"priority"`
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, r, h.deps.Logger, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProblemID) == "" {
		writeValidationError(w, r, h.deps.Logger, "field 'problem_id' is required")
		return
	}

	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["backend_type"]; !ok {
		params["backend_type"] = "internal"
	}
	if _, ok := params["max_steps"]; !ok {
		params["max_steps"] = h.deps.Defaults.MaxSteps
	}
	if _, ok := params["timeout_minutes"]; !ok {
		params["timeout_minutes"] = h.deps.Defaults.TimeoutMinutes
	}
	applyAgentModelDefault(params, h.deps.Defaults.AgentModel)

	priority := h.deps.Defaults.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}

	task := &domain.Task{
		ProblemID:  req.ProblemID,
		Parameters: params,
		Priority:   priority,
		Status:     domain.TaskPending,
		CreatedAt:  time.Now().UTC(),
	}

	id, err := h.deps.Store.InsertTask(r.Context(), task)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	task.ID = id
	telemetry.APITasksSubmitted.WithLabelValues(task.ProblemID).Inc()

	writeJSON(w, http.StatusCreated, taskResponse(task))
}

// applyAgentModelDefault fills in agent_config.model with the resolved
// OPENROUTER_MODEL → OPENAI_MODEL → DEFAULT_AGENT_MODEL → "gpt-4"
// fallback chain when the caller didn't specify one (spec.md line 39,
// matching the original's _resolve_default_model() applied at task
// creation time).
func applyAgentModelDefault(params map[string]any, defaultModel string) {
	agentConfig, ok := params["agent_config"].(map[string]any)
	if !ok {
		agentConfig = map[string]any{}
	}
	if model, ok := agentConfig["model"].(string); !ok || strings.TrimSpace(model) == "" {
		agentConfig["model"] = defaultModel
	}
	params["agent_config"] = agentConfig
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.deps.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{}
	if s := q.Get("status"); s != "" {
		status := domain.TaskStatus(s)
		filter.Status = &status
	}
	if bt := q.Get("backend_type"); bt != "" {
		filter.BackendType = &bt
	}
	if wid := q.Get("worker_id"); wid != "" {
		filter.WorkerID = &wid
	}

	page := store.Pagination{Limit: 50, Offset: 0}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		page.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		page.Offset = o
	}

	tasks, err := h.deps.Store.ListTasks(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}

	out := make([]taskResponseBody, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (h *handlers) taskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Store.TaskStats(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Store.CancelTask(r.Context(), id); err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	if h.deps.Events != nil {
		h.deps.Events.Publish(r.Context(), events.LifecycleEvent{Type: events.EventCancelled, TaskID: id})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *handlers) listTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	filter := store.TaskLogFilter{Limit: 100}
	if lv := q.Get("level"); lv != "" {
		level := domain.LogLevel(lv)
		filter.Level = &level
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		filter.Limit = l
	}

	logs, err := h.deps.Store.ListLogs(r.Context(), id, filter)
	if err != nil {
		writeError(w, r, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type taskResponseBody struct {
	ID           string         `json:"id"`
	ProblemID    string         `json:"problem_id"`
	Parameters   map[string]any `json:"parameters"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	WorkerID     *string        `json:"worker_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	TimeoutAt    *time.Time     `json:"timeout_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

func taskResponse(t *domain.Task) taskResponseBody {
	return taskResponseBody{
		ID:           t.ID,
		ProblemID:    t.ProblemID,
		Parameters:   t.Parameters,
		Priority:     t.Priority,
		Status:       string(t.Status),
		WorkerID:     t.WorkerID,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		TimeoutAt:    t.TimeoutAt,
		Result:       t.Result,
		ErrorDetails: t.ErrorDetails,
	}
}
