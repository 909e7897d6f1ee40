package executor

import (
	"context"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// InternalExecutor services backend_type "internal": a stub runner used
// when no external orchestrator is configured, and in tests. It does no
// real AIOpsLab work; it exists so the queue/claim/complete lifecycle
// has something to drive end to end without a subprocess dependency.
type InternalExecutor struct {
	// SimulatedWork, when non-zero, sleeps before returning — useful in
	// integration tests that want to observe a task mid-flight.
	SimulatedWork time.Duration
}

func (e *InternalExecutor) BackendType() string { return "internal" }

func (e *InternalExecutor) Execute(ctx context.Context, task *domain.Task, sink EventSink) (Result, error) {
	sink.Log(ctx, domain.LogInfo, "internal executor starting", map[string]any{"problem_id": task.ProblemID})

	if e.SimulatedWork > 0 {
		select {
		case <-time.After(e.SimulatedWork):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	sink.ConversationTurn(ctx, domain.LLMMessage{
		Role:      domain.RoleAssistant,
		Content:   "internal stub completed task " + task.ID,
		Timestamp: time.Now().UTC(),
	})
	sink.Log(ctx, domain.LogInfo, "internal executor finished", nil)

	return Result{
		Success: true,
		Output:  map[string]any{"backend": "internal", "problem_id": task.ProblemID},
	}, nil
}
