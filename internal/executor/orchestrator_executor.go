package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// CancellationChecker lets the orchestrator executor observe a
// cooperative cancellation flag between subprocess events without
// depending on store.Store directly (spec.md §5 "Cancellation").
type CancellationChecker interface {
	IsCancelled(ctx context.Context, taskID string) (bool, error)
}

// orchestratorEvent is one line of the subprocess's newline-delimited
// JSON event stream. Type is one of: started, log, conversation_turn,
// completed, failed.
type orchestratorEvent struct {
	Type    string         `json:"type"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content string         `json:"content,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Error   map[string]any `json:"error,omitempty"`
}

// cancelPollInterval bounds how often the subprocess-watching goroutine
// checks for a cooperative cancellation flag between events.
const cancelPollInterval = 500 * time.Millisecond

// OrchestratorExecutor services backend_type "orchestrator": it shells
// out to an external AIOpsLab problem orchestrator binary, one
// subprocess per task, and streams its NDJSON stdout back through the
// EventSink. Per spec.md §5, the subprocess always runs on a dedicated
// goroutine — Execute itself never blocks a caller beyond waiting on
// that goroutine via ctx.
type OrchestratorExecutor struct {
	// Command is the orchestrator binary (e.g. the value of
	// ORCHESTRATOR_COMMAND). Invoked as `Command <task-id> <problem-id>`.
	Command string
	Checker CancellationChecker
	Logger  *slog.Logger
}

func (e *OrchestratorExecutor) BackendType() string { return "orchestrator" }

func (e *OrchestratorExecutor) Execute(ctx context.Context, task *domain.Task, sink EventSink) (Result, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	cmd := exec.CommandContext(runCtx, e.Command, task.ID, task.ProblemID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start orchestrator process: %w", err)
	}

	clusterID := ""
	if task.WorkerID != nil {
		clusterID = domain.ClusterIDForWorker(*task.WorkerID)
	}
	sink.Log(ctx, domain.LogInfo, "orchestrator process started", map[string]any{
		"pid":        cmd.Process.Pid,
		"cluster_id": clusterID,
	})

	events := make(chan orchestratorEvent)
	scanErr := make(chan error, 1)
	go e.scanEvents(runCtx, stdout, events, scanErr)

	result, runErr := e.drive(runCtx, task, sink, events)
	// Cancelling runCtx here (via defer, or explicitly on cancellation) stops
	// the subprocess and unblocks scanEvents's send even if drive returned
	// before consuming every buffered event.
	cancelRun()

	waitErr := cmd.Wait()
	if runErr != nil {
		return result, runErr
	}
	if err := <-scanErr; err != nil && err != io.EOF {
		e.Logger.Warn("orchestrator event stream ended with error", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
	if waitErr != nil {
		return result, fmt.Errorf("orchestrator process exited with error: %w", waitErr)
	}
	return result, nil
}

// drive consumes the event stream, forwarding log/conversation events
// to sink, and polls CancellationChecker between events so a cancelled
// task stops driving the subprocess without waiting for it to exit on
// its own.
func (e *OrchestratorExecutor) drive(ctx context.Context, task *domain.Task, sink EventSink, events <-chan orchestratorEvent) (Result, error) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()

		case <-ticker.C:
			if e.Checker == nil {
				continue
			}
			cancelled, err := e.Checker.IsCancelled(ctx, task.ID)
			if err != nil {
				e.Logger.Warn("cancellation check failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
				continue
			}
			if cancelled {
				return Result{}, &domain.ExecutionError{Message: "task cancelled during orchestrator run"}
			}

		case ev, ok := <-events:
			if !ok {
				return Result{}, &domain.ExecutionError{Message: "orchestrator process exited without a completed/failed event"}
			}
			switch ev.Type {
			case "started":
				sink.Log(ctx, domain.LogInfo, "orchestrator reported start", ev.Fields)
			case "log":
				sink.Log(ctx, parseLevel(ev.Level), ev.Message, ev.Fields)
			case "conversation_turn":
				sink.ConversationTurn(ctx, domain.LLMMessage{
					Role:      domain.MessageRole(ev.Role),
					Content:   ev.Content,
					Timestamp: time.Now().UTC(),
				})
			case "completed":
				return Result{Success: true, Output: ev.Output}, nil
			case "failed":
				return Result{Success: false, Error: ev.Error}, &domain.ExecutionError{Message: "orchestrator reported failure"}
			default:
				sink.Log(ctx, domain.LogWarn, "unrecognized orchestrator event type", map[string]any{"type": ev.Type})
			}
		}
	}
}

func (e *OrchestratorExecutor) scanEvents(ctx context.Context, r io.Reader, out chan<- orchestratorEvent, errc chan<- error) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev orchestratorEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			e.Logger.Warn("malformed orchestrator event line, skipping", slog.String("error", err.Error()))
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
	}
	errc <- scanner.Err()
}

func parseLevel(s string) domain.LogLevel {
	switch domain.LogLevel(s) {
	case domain.LogDebug, domain.LogInfo, domain.LogWarn, domain.LogError:
		return domain.LogLevel(s)
	default:
		return domain.LogInfo
	}
}
