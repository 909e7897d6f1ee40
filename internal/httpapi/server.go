// Package httpapi translates the external API of spec.md §6 into calls
// against the Store, Queue, Registry, and Manager — the thin chi router
// grounded on the teacher's services/api-gateway/handler+middleware.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/internal/workerpool"
)

// maxRequestBody bounds POST bodies accepted by this API.
const maxRequestBody = 1 << 20 // 1MB

// Defaults carries the request-time defaults spec.md §6 names for task
// creation: default_max_steps, default_timeout_minutes, default_priority.
type Defaults struct {
	MaxSteps       int
	TimeoutMinutes float64
	Priority       int
	// AgentModel is the resolved OPENROUTER_MODEL → OPENAI_MODEL →
	// DEFAULT_AGENT_MODEL → "gpt-4" fallback chain (spec.md line 39,
	// SPEC_FULL.md §3), applied to agent_config.model when absent.
	AgentModel string
}

// Deps bundles every dependency a handler may need. Handlers hold only
// references to these — no handler-local state (spec.md §9).
type Deps struct {
	Store    store.Store
	Queue    *queue.Queue
	Registry *registry.Registry
	Manager  *workerpool.Manager
	Events   *events.Bus
	Defaults Defaults
	Logger   *slog.Logger
	Version  string

	// RootContext outlives individual requests; internalStart boots the
	// Manager's worker loops under it rather than under a request's
	// context, so they keep running after the HTTP response returns.
	RootContext context.Context
}

// NewRouter builds the full HTTP API described in spec.md §6.
func NewRouter(deps Deps) *chi.Mux {
	h := &handlers{deps: deps, startedAt: time.Now().UTC()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(deps.Logger))
	r.Use(maxBodySize(maxRequestBody))

	r.Get("/", h.serviceInfo)
	r.Get("/health", h.health)
	r.Get("/queue/stats", h.queueStats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.createTask)
			r.Get("/", h.listTasks)
			r.Get("/stats", h.taskStats)
			r.Get("/{id}", h.getTask)
			r.Post("/{id}/cancel", h.cancelTask)
			r.Get("/{id}/logs", h.listTaskLogs)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Post("/register", h.registerWorker)
			r.Get("/", h.listWorkers)

			r.Route("/internal", func(r chi.Router) {
				r.Get("/status", h.internalStatus)
				r.Post("/scale", h.internalScale)
				r.Post("/start", h.internalStart)
				r.Post("/stop", h.internalStop)
			})

			r.Get("/{id}", h.getWorker)
			r.Post("/{id}/heartbeat", h.heartbeatWorker)
			r.Post("/{id}/claim", h.claimTask)
			r.Post("/{id}/tasks/{taskID}/complete", h.completeTask)
			r.Post("/{id}/tasks/{taskID}/fail", h.failTask)
			r.Get("/{id}/stats", h.workerStats)
		})

		r.Route("/llm-conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Get("/stats/summary", h.conversationStatsSummary)
			r.Get("/task/{taskID}/conversations", h.conversationsForTask)
			r.Get("/{id}", h.getConversation)
			r.Get("/{id}/messages", h.listConversationMessages)
		})
	})

	return r
}

type handlers struct {
	deps      Deps
	startedAt time.Time
}
