// Package executor runs a claimed task against its target backend and
// streams logs/conversation turns back to the Store (spec.md §4.5).
package executor

import (
	"context"
	"fmt"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// Result is what an Executor returns for a task that ran to completion
// without being cancelled or crashing the worker loop.
type Result struct {
	Success bool
	Output  map[string]any
	Error   map[string]any
}

// Executor runs one task end to end: spawn/stream/observe cancellation.
// Implementations must never block a shared request-handling goroutine;
// orchestrator-backed variants dispatch to a dedicated goroutine or
// subprocess (spec.md §5 "Suspension points").
type Executor interface {
	// BackendType is the label this Executor services (spec.md §3
	// "backend_type"). The worker manager routes tasks to the Executor
	// whose BackendType matches the task's.
	BackendType() string

	// Execute runs task to completion or until ctx is cancelled. The
	// caller (worker loop) is responsible for translating the result
	// into CompleteTask/FailTask calls against the Store.
	Execute(ctx context.Context, task *domain.Task, sink EventSink) (Result, error)
}

// EventSink receives side-effects the Executor produces while running,
// so the caller can persist them without the Executor depending on the
// Store directly (spec.md §4.5 "writes task_logs, writes
// llm_conversations").
type EventSink interface {
	Log(ctx context.Context, level domain.LogLevel, message string, fields map[string]any)
	ConversationTurn(ctx context.Context, msg domain.LLMMessage)
}

// Registry selects an Executor by backend type.
type Registry struct {
	byBackend map[string]Executor
}

// NewRegistry builds a Registry from a set of Executors, keyed by their
// own BackendType().
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{byBackend: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.byBackend[e.BackendType()] = e
	}
	return r
}

// Get returns the Executor registered for backendType, or an
// ExecutionError if none is registered — this is a configuration
// mistake (a worker claimed a task for a backend nobody can run), not a
// per-task failure, so it is surfaced distinctly from Execute errors.
func (r *Registry) Get(backendType string) (Executor, error) {
	e, ok := r.byBackend[backendType]
	if !ok {
		return nil, &domain.ExecutionError{Message: fmt.Sprintf("no executor registered for backend_type %q", backendType)}
	}
	return e, nil
}
