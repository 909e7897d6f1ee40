// Package registry manages worker registration and liveness tracking
// (spec.md §4.3).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/store"
)

// DefaultHeartbeatTimeout is the liveness window the worker Manager
// assumes when its Config leaves HeartbeatTimeout unset; its loops then
// heartbeat every third of it. The sweeper uses its own configured
// timeout, not this constant.
const DefaultHeartbeatTimeout = 30 * time.Second

// Registry records worker presence and liveness in the Store.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// New builds a Registry over s.
func New(s store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: s, logger: logger}
}

// Register validates workerID against the spec's naming pattern and
// upserts its capabilities, starting it idle.
func (r *Registry) Register(ctx context.Context, workerID, backendType string, caps domain.Capabilities, metadata map[string]any) (*domain.Worker, error) {
	if !domain.ValidWorkerID(workerID) {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid worker id %q: must match worker-<3 digits>-<suffix>", workerID)}
	}

	w := &domain.Worker{
		ID:            workerID,
		BackendType:   backendType,
		Capabilities:  caps,
		Metadata:      metadata,
		Status:        domain.WorkerIdle,
		LastHeartbeat: time.Now().UTC(),
	}
	if err := r.store.UpsertWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("register worker %s: %w", workerID, err)
	}

	r.logger.Info("worker registered",
		slog.String("worker_id", workerID),
		slog.String("backend_type", backendType),
	)
	return w, nil
}

// Heartbeat refreshes a worker's liveness timestamp and current status.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentTaskID *string) error {
	if err := r.store.Heartbeat(ctx, workerID, status, currentTaskID); err != nil {
		return fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	return nil
}

// Deregister marks a worker offline and clears its current task pointer.
// The store has no delete-worker primitive, so "deregister" means the
// same terminal state the heartbeat sweep gives a stale worker
// (spec.md §4.4 "deregister" on scale-down, "marks them offline" on Stop).
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	if err := r.store.Heartbeat(ctx, workerID, domain.WorkerOffline, nil); err != nil {
		return fmt.Errorf("deregister worker %s: %w", workerID, err)
	}
	return nil
}

// Get returns a single worker's current record.
func (r *Registry) Get(ctx context.Context, workerID string) (*domain.Worker, error) {
	return r.store.GetWorker(ctx, workerID)
}

// List returns every registered worker.
func (r *Registry) List(ctx context.Context) ([]*domain.Worker, error) {
	return r.store.ListWorkers(ctx)
}
