package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/executor"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/pkg/retry"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// storeRetry bounds retries of the terminal store write a loop makes
// once a task has actually finished executing — losing that write would
// strand the task in "running" even though the work is done.
var storeRetry = retry.Config{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}

// LoopState is one logical worker's lifecycle state (spec.md §4.4,
// "single lock or single-writer goroutine").
type LoopState string

const (
	LoopStarting LoopState = "starting"
	LoopIdle     LoopState = "idle"
	LoopClaiming LoopState = "claiming"
	LoopBusy     LoopState = "busy"
	LoopDraining LoopState = "draining"
	LoopStopped  LoopState = "stopped"
)

// loop is one logical internal worker: a goroutine that registers
// itself, then alternates between claiming and executing until told to
// drain. Its state field is only ever written by its own goroutine;
// Manager reads it through State, which takes the same mutex used
// for writes.
type loop struct {
	id          string
	backendType string
	caps        domain.Capabilities

	queue    *queue.Queue
	registry *registry.Registry
	store    store.Store
	executor *executor.Registry
	events   *events.Bus
	logger   *slog.Logger

	heartbeatEvery time.Duration

	stateMu sync.Mutex
	state   LoopState

	stopCh chan struct{}
	doneCh chan struct{}
}

func newLoop(id, backendType string, caps domain.Capabilities, deps loopDeps) *loop {
	return &loop{
		id:             id,
		backendType:    backendType,
		caps:           caps,
		queue:          deps.queue,
		registry:       deps.registry,
		store:          deps.store,
		executor:       deps.executor,
		events:         deps.events,
		logger:         deps.logger.With(slog.String("worker_id", id)),
		heartbeatEvery: deps.heartbeatEvery,
		state:          LoopStarting,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

type loopDeps struct {
	queue          *queue.Queue
	registry       *registry.Registry
	store          store.Store
	executor       *executor.Registry
	events         *events.Bus
	logger         *slog.Logger
	heartbeatEvery time.Duration
}

func (l *loop) setState(s LoopState) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

func (l *loop) State() LoopState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// run drives the loop's state machine until Stop is called or ctx is
// cancelled, then signals doneCh. Per spec.md §4.4, transitions are:
// starting → idle ⇄ claiming ⇄ busy → draining → stopped.
func (l *loop) run(ctx context.Context) {
	defer close(l.doneCh)

	if _, err := l.registry.Register(ctx, l.id, l.backendType, l.caps, nil); err != nil {
		l.logger.Error("worker registration failed, loop exiting", slog.String("error", err.Error()))
		l.setState(LoopStopped)
		return
	}
	l.setState(LoopIdle)
	defer l.deregister()

	heartbeat := time.NewTicker(l.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-l.stopCh:
			l.setState(LoopDraining)
			l.setState(LoopStopped)
			return
		case <-ctx.Done():
			l.setState(LoopStopped)
			return
		case <-heartbeat.C:
			if err := l.registry.Heartbeat(ctx, l.id, l.currentStatus(), nil); err != nil {
				l.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
			}
		default:
		}

		l.setState(LoopClaiming)
		task, err := l.queue.Claim(ctx, l.id, l.backendType, l.caps.SupportedProblems)
		if err != nil {
			l.logger.Error("claim failed", slog.String("error", err.Error()))
			l.setState(LoopIdle)
			l.sleep(ctx, l.queue.NextBackoff(false))
			continue
		}
		if task == nil {
			l.setState(LoopIdle)
			l.sleep(ctx, l.queue.NextBackoff(false))
			continue
		}

		l.queue.NextBackoff(true) // reset backoff on a successful claim
		l.setState(LoopBusy)
		l.executeTask(ctx, task)
		l.setState(LoopIdle)
	}
}

// agentModel reads agent_config.model out of a task's parameters, which
// httpapi.createTask always populates via the resolved
// OPENROUTER_MODEL → OPENAI_MODEL → DEFAULT_AGENT_MODEL → "gpt-4"
// fallback chain.
func agentModel(task *domain.Task) string {
	agentConfig, ok := task.Parameters["agent_config"].(map[string]any)
	if !ok {
		return ""
	}
	model, _ := agentConfig["model"].(string)
	return model
}

func (l *loop) currentStatus() domain.WorkerStatus {
	if l.State() == LoopBusy {
		return domain.WorkerBusy
	}
	return domain.WorkerIdle
}

func (l *loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-l.stopCh:
	}
}

// executeTask runs the claimed task via the matching Executor and
// resolves it to CompleteTask/FailTask. Per spec.md §4.5, an Executor
// error never propagates out of the loop — it is always converted to a
// fail_task call so the loop can resume claiming.
func (l *loop) executeTask(ctx context.Context, task *domain.Task) {
	log := l.logger.With(slog.String("task_id", task.ID), slog.String("problem_id", task.ProblemID))
	start := time.Now()

	l.publish(ctx, events.EventStarted, task, nil)

	exec, err := l.executor.Get(task.BackendType())
	if err != nil {
		log.Error("no executor for backend type", slog.String("error", err.Error()))
		l.fail(ctx, task, map[string]any{"message": err.Error()})
		return
	}

	sink := &storeEventSink{store: l.store, taskID: task.ID, model: agentModel(task), logger: log}
	result, execErr := exec.Execute(ctx, task, sink)

	telemetry.WorkerTaskDurationSeconds.WithLabelValues(task.BackendType()).Observe(time.Since(start).Seconds())

	if execErr != nil {
		log.Error("task execution failed", slog.String("error", execErr.Error()))
		l.fail(ctx, task, map[string]any{"message": execErr.Error()})
		return
	}

	err = retry.Do(ctx, storeRetry, func() error {
		return l.store.CompleteTask(ctx, task.ID, l.id, result.Output)
	})
	if err != nil {
		log.Error("failed to record task completion", slog.String("error", err.Error()))
		return
	}
	telemetry.WorkerTasksProcessed.WithLabelValues(task.BackendType(), "completed").Inc()
	l.publish(ctx, events.EventCompleted, task, result.Output)
	log.Info("task completed", slog.Duration("duration", time.Since(start)))
}

func (l *loop) fail(ctx context.Context, task *domain.Task, errorDetails map[string]any) {
	err := retry.Do(ctx, storeRetry, func() error {
		return l.store.FailTask(ctx, task.ID, l.id, errorDetails)
	})
	if err != nil {
		l.logger.Error("failed to record task failure", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
	telemetry.WorkerTasksProcessed.WithLabelValues(task.BackendType(), "failed").Inc()
	l.publish(ctx, events.EventFailed, task, errorDetails)
}

func (l *loop) publish(ctx context.Context, evType events.EventType, task *domain.Task, detail map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Publish(ctx, events.LifecycleEvent{
		Type:      evType,
		TaskID:    task.ID,
		WorkerID:  l.id,
		ProblemID: task.ProblemID,
		Detail:    detail,
	})
}

// deregister marks the worker offline once its run loop exits, whether
// from a scale-down or a full Stop (spec.md §4.4). It uses a fresh
// context since the one run() drove is already cancelled or draining by
// the time this runs.
func (l *loop) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.registry.Deregister(ctx, l.id); err != nil {
		l.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
}

// stop signals the loop to drain and blocks until it has fully exited.
func (l *loop) stop() {
	close(l.stopCh)
	<-l.doneCh
}
