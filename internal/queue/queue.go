// Package queue adds policy and instrumentation on top of the Store's
// transactional claim primitive (spec.md §4.2).
package queue

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// PollConfig controls how a worker loop backs off when the queue is empty.
type PollConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultPollConfig matches spec.md §4.2's recommended polling cadence.
var DefaultPollConfig = PollConfig{
	MinInterval: 200 * time.Millisecond,
	MaxInterval: 3 * time.Second,
}

// Queue is the worker-facing claim surface. It is a thin wrapper: all
// atomicity guarantees live in store.Store.ClaimNext.
type Queue struct {
	store   store.Store
	logger  *slog.Logger
	backoff time.Duration
	cfg     PollConfig
}

// New builds a Queue over s.
func New(s store.Store, logger *slog.Logger, cfg PollConfig) *Queue {
	return &Queue{store: s, logger: logger, backoff: cfg.MinInterval, cfg: cfg}
}

// Claim attempts to claim one task for workerID. It returns (nil, nil)
// when the queue is empty for that backend/capability combination —
// callers should treat that as "sleep and retry", not an error.
func (q *Queue) Claim(ctx context.Context, workerID, backendType string, supportedProblems []string) (*domain.Task, error) {
	ctx, span := otel.Tracer("queue").Start(ctx, "queue.claim")
	defer span.End()
	span.SetAttributes(
		attribute.String("worker.id", workerID),
		attribute.String("backend.type", backendType),
	)

	start := time.Now()
	task, err := q.store.ClaimNext(ctx, workerID, backendType, supportedProblems)
	telemetry.QueueClaimDurationSeconds.WithLabelValues(backendType).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		telemetry.QueueClaimsTotal.WithLabelValues(backendType, "error").Inc()
		return nil, err
	}
	if task == nil {
		telemetry.QueueClaimsTotal.WithLabelValues(backendType, "empty").Inc()
		return nil, nil
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	telemetry.QueueClaimsTotal.WithLabelValues(backendType, "claimed").Inc()
	q.logger.Info("task claimed",
		slog.String("task_id", task.ID),
		slog.String("worker_id", workerID),
		slog.String("problem_id", task.ProblemID),
	)
	return task, nil
}

// NextBackoff returns a jittered delay to wait before the next poll,
// doubling on an empty claim and resetting on a successful one.
func (q *Queue) NextBackoff(claimed bool) time.Duration {
	if claimed {
		q.backoff = q.cfg.MinInterval
		return 0
	}
	delay := q.backoff
	q.backoff *= 2
	if q.backoff > q.cfg.MaxInterval {
		q.backoff = q.cfg.MaxInterval
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	return delay + jitter
}

// Stats reports current queue depth for observability (spec.md §6).
func (q *Queue) Stats(ctx context.Context) (store.QueueStats, error) {
	stats, err := q.store.QueueStats(ctx)
	if err != nil {
		return store.QueueStats{}, err
	}
	for backend, depth := range stats.PendingByBackend {
		telemetry.QueueDepth.WithLabelValues(backend).Set(float64(depth))
	}
	return stats, nil
}
