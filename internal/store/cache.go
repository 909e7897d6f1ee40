package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// taskCacheTTL and workerCacheTTL bound staleness of the read-through
// cache; writes always go through to Postgres first and then invalidate
// rather than update the cached copy, so a short TTL is the backstop
// against missed invalidations rather than the primary freshness control.
const (
	taskCacheTTL   = 30 * time.Second
	workerCacheTTL = 15 * time.Second
)

func taskCacheKey(id string) string   { return "task:" + id }
func workerCacheKey(id string) string { return "worker:" + id }

// NewRedisClient mirrors the pack's Redis bootstrap (grounded on the
// teacher's internal/redis.NewClient).
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// cachedStore decorates a Store with a Redis read-through cache for the
// two hottest point reads (GetTask, GetWorker). Every mutation that
// touches a task or worker row invalidates the corresponding cache
// entry rather than writing through it, so a crashed mutation never
// leaves a stale hit behind.
type cachedStore struct {
	Store
	redis *redis.Client
}

// NewCachedStore wraps inner with a Redis-backed read-through cache.
func NewCachedStore(inner Store, client *redis.Client) Store {
	return &cachedStore{Store: inner, redis: client}
}

func (c *cachedStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if cached, ok := c.getCachedTask(ctx, id); ok {
		return cached, nil
	}
	task, err := c.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setCachedTask(ctx, task)
	return task, nil
}

func (c *cachedStore) getCachedTask(ctx context.Context, id string) (*domain.Task, bool) {
	data, err := c.redis.Get(ctx, taskCacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false
	}
	return &task, true
}

func (c *cachedStore) setCachedTask(ctx context.Context, task *domain.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	c.redis.Set(ctx, taskCacheKey(task.ID), data, taskCacheTTL)
}

func (c *cachedStore) invalidateTask(ctx context.Context, id string) {
	c.redis.Del(ctx, taskCacheKey(id))
}

func (c *cachedStore) CancelTask(ctx context.Context, id string) error {
	err := c.Store.CancelTask(ctx, id)
	c.invalidateTask(ctx, id)
	return err
}

func (c *cachedStore) CompleteTask(ctx context.Context, taskID, workerID string, result map[string]any) error {
	err := c.Store.CompleteTask(ctx, taskID, workerID, result)
	c.invalidateTask(ctx, taskID)
	c.invalidateWorker(ctx, workerID)
	return err
}

func (c *cachedStore) FailTask(ctx context.Context, taskID, workerID string, errorDetails map[string]any) error {
	err := c.Store.FailTask(ctx, taskID, workerID, errorDetails)
	c.invalidateTask(ctx, taskID)
	c.invalidateWorker(ctx, workerID)
	return err
}

func (c *cachedStore) ClaimNext(ctx context.Context, workerID, backendType string, supportedProblems []string) (*domain.Task, error) {
	task, err := c.Store.ClaimNext(ctx, workerID, backendType, supportedProblems)
	if err == nil && task != nil {
		c.invalidateTask(ctx, task.ID)
		c.invalidateWorker(ctx, workerID)
	}
	return task, err
}

func (c *cachedStore) ExpireRunning(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := c.Store.ExpireRunning(ctx, now)
	for _, id := range ids {
		c.invalidateTask(ctx, id)
		if task, getErr := c.Store.GetTask(ctx, id); getErr == nil && task.WorkerID != nil {
			c.invalidateWorker(ctx, *task.WorkerID)
		}
	}
	return ids, err
}

func (c *cachedStore) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	if cached, ok := c.getCachedWorker(ctx, id); ok {
		return cached, nil
	}
	worker, err := c.Store.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setCachedWorker(ctx, worker)
	return worker, nil
}

func (c *cachedStore) getCachedWorker(ctx context.Context, id string) (*domain.Worker, bool) {
	data, err := c.redis.Get(ctx, workerCacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var worker domain.Worker
	if err := json.Unmarshal(data, &worker); err != nil {
		return nil, false
	}
	return &worker, true
}

func (c *cachedStore) setCachedWorker(ctx context.Context, worker *domain.Worker) {
	data, err := json.Marshal(worker)
	if err != nil {
		return
	}
	c.redis.Set(ctx, workerCacheKey(worker.ID), data, workerCacheTTL)
}

func (c *cachedStore) invalidateWorker(ctx context.Context, id string) {
	if id == "" {
		return
	}
	c.redis.Del(ctx, workerCacheKey(id))
}

func (c *cachedStore) UpsertWorker(ctx context.Context, w *domain.Worker) error {
	err := c.Store.UpsertWorker(ctx, w)
	c.invalidateWorker(ctx, w.ID)
	return err
}

func (c *cachedStore) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentTaskID *string) error {
	err := c.Store.Heartbeat(ctx, workerID, status, currentTaskID)
	c.invalidateWorker(ctx, workerID)
	return err
}

func (c *cachedStore) SweepOfflineWorkers(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]string, error) {
	ids, err := c.Store.SweepOfflineWorkers(ctx, now, heartbeatTimeout)
	for _, id := range ids {
		c.invalidateWorker(ctx, id)
	}
	return ids, err
}

// leaderKey namespaces the sweeper's distributed-lock election.
func leaderKey(name string) string { return "leader:" + name }

// AcquireLeadership attempts a SETNX-based leader election for a named
// singleton job (spec.md §4.6 "one sweep per tick across all replicas"),
// grounded on the teacher's scheduler leader-election pattern.
func AcquireLeadership(ctx context.Context, client *redis.Client, name, holderID string, ttl time.Duration) (bool, error) {
	ok, err := client.SetNX(ctx, leaderKey(name), holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire leadership for %s: %w", name, err)
	}
	return ok, nil
}

// renewLeadershipScript only extends the TTL if holderID still owns the
// lock, preventing a slow renew from stealing the lock back after
// another replica has already taken over.
var renewLeadershipScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// RenewLeadership extends the TTL on an already-held leadership lock.
func RenewLeadership(ctx context.Context, client *redis.Client, name, holderID string, ttl time.Duration) (bool, error) {
	res, err := renewLeadershipScript.Run(ctx, client, []string{leaderKey(name)}, holderID, ttl.Milliseconds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("renew leadership for %s: %w", name, err)
	}
	renewed, _ := res.(int64)
	return renewed == 1, nil
}

// ReleaseLeadership drops the lock if holderID still owns it.
func ReleaseLeadership(ctx context.Context, client *redis.Client, name, holderID string) error {
	val, err := client.Get(ctx, leaderKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release leadership for %s: %w", name, err)
	}
	if val != holderID {
		return nil
	}
	return client.Del(ctx, leaderKey(name)).Err()
}
