// Package sweeper implements the periodic timeout/heartbeat sweep
// (spec.md §4.6).
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

const (
	leaderName = "sweeper"
	leaderTTL  = 30 * time.Second
)

// Sweeper periodically expires overdue running tasks and marks
// stale-heartbeat workers offline. It is safe to run one instance per
// service replica — Redis leader election ensures only one replica
// actually sweeps per tick (spec.md §4.6 "Idempotent").
type Sweeper struct {
	store            store.Store
	redis            *redis.Client
	events           *events.Bus
	instanceID       string
	heartbeatTimeout time.Duration
	logger           *slog.Logger

	cron *cron.Cron
}

// New builds a Sweeper. interval is not used here: the cron cadence is
// the interval passed to Start. heartbeatTimeout is the worker
// liveness window (spec.md §4.3). bus may be nil to skip lifecycle
// event publication.
func New(s store.Store, redisClient *redis.Client, bus *events.Bus, interval, heartbeatTimeout time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:            s,
		redis:            redisClient,
		events:           bus,
		instanceID:       uuid.NewString(),
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
		cron:             cron.New(),
	}
}

// Start schedules the sweep on the configured cadence and blocks until
// ctx is cancelled, then stops the cron scheduler gracefully.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) error {
	spec := "@every " + interval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	s.tick(ctx) // run once immediately so a fresh deploy doesn't wait a full interval

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	leading, err := store.AcquireLeadership(ctx, s.redis, leaderName, s.instanceID, leaderTTL)
	if err != nil {
		s.logger.Error("sweeper leadership acquisition failed", slog.String("error", err.Error()))
		return
	}
	if !leading {
		renewed, err := store.RenewLeadership(ctx, s.redis, leaderName, s.instanceID, leaderTTL)
		if err != nil {
			s.logger.Error("sweeper leadership renewal failed", slog.String("error", err.Error()))
			return
		}
		if !renewed {
			return // another replica is leading this tick
		}
	}

	telemetry.SweeperRunsTotal.Inc()
	now := time.Now().UTC()

	expired, err := s.store.ExpireRunning(ctx, now)
	if err != nil {
		s.logger.Error("expire running tasks failed", slog.String("error", err.Error()))
	} else if len(expired) > 0 {
		telemetry.SweeperTasksExpired.Add(float64(len(expired)))
		s.logger.Info("expired overdue tasks", slog.Int("count", len(expired)))
		if s.events != nil {
			for _, id := range expired {
				s.events.Publish(ctx, events.LifecycleEvent{Type: events.EventTimeout, TaskID: id})
			}
		}
	}

	offline, err := s.store.SweepOfflineWorkers(ctx, now, s.heartbeatTimeout)
	if err != nil {
		s.logger.Error("sweep offline workers failed", slog.String("error", err.Error()))
	} else if len(offline) > 0 {
		telemetry.SweeperWorkersOffline.Add(float64(len(offline)))
		s.logger.Info("marked workers offline", slog.Int("count", len(offline)))
	}
}
