// Package store provides transactional persistence for tasks, logs,
// workers, and LLM conversations (spec.md §4.1).
package store

import (
	"context"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status      *domain.TaskStatus
	BackendType *string
	WorkerID    *string
}

// Pagination bounds a ListTasks call.
type Pagination struct {
	Limit  int
	Offset int
}

// TaskLogFilter narrows a log listing.
type TaskLogFilter struct {
	Level *domain.LogLevel
	Limit int
}

// ConversationFilter narrows a conversation listing.
type ConversationFilter struct {
	TaskID *string
	Role   *domain.MessageRole
	Limit  int
	Offset int
}

// ConversationStatsSummary aggregates LLMConversation metrics.
type ConversationStatsSummary struct {
	TotalConversations    int64
	TotalTokensPrompt     int64
	TotalTokensCompletion int64
	TotalCostEstimate     float64
	SuccessCount          int64
	FailureCount          int64
}

// QueueStats summarizes pending/running task counts, used by the HTTP
// ops surface and the sweeper's own instrumentation.
type QueueStats struct {
	PendingByBackend map[string]int64
	RunningByBackend map[string]int64
	TotalPending     int64
	TotalRunning     int64
}

// TaskStats summarizes task counts by status, for GET /tasks/stats.
type TaskStats struct {
	ByStatus map[domain.TaskStatus]int64
	Total    int64
}

// Store is the transactional persistence interface spec.md §4.1 requires.
// Every implementation must guarantee that ClaimNext and ExpireRunning
// lock and mutate rows atomically within a single transaction, so that
// no two callers ever observe the same pending/running row (spec.md §4.1
// "Invariant enforcement", §8 "At-most-once claim").
type Store interface {
	InsertTask(ctx context.Context, t *domain.Task) (string, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter, page Pagination) ([]*domain.Task, error)
	CancelTask(ctx context.Context, id string) error
	TaskStats(ctx context.Context) (TaskStats, error)

	AppendLog(ctx context.Context, taskID string, level domain.LogLevel, message string, fields map[string]any) (*domain.TaskLog, error)
	ListLogs(ctx context.Context, taskID string, filter TaskLogFilter) ([]*domain.TaskLog, error)

	UpsertWorker(ctx context.Context, w *domain.Worker) error
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]*domain.Worker, error)
	Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentTaskID *string) error

	// ClaimNext implements spec.md §4.2: it locks and claims the highest
	// priority / earliest pending task whose backend_type matches
	// backendType and whose problem_id satisfies the capability hint, or
	// returns (nil, nil) if nothing is claimable.
	ClaimNext(ctx context.Context, workerID, backendType string, supportedProblems []string) (*domain.Task, error)

	CompleteTask(ctx context.Context, taskID, workerID string, result map[string]any) error
	FailTask(ctx context.Context, taskID, workerID string, errorDetails map[string]any) error

	// ExpireRunning flips every running task whose deadline has passed to
	// timeout, atomically, and returns their IDs (spec.md §4.6).
	ExpireRunning(ctx context.Context, now time.Time) ([]string, error)

	// SweepOfflineWorkers marks workers stale beyond heartbeatTimeout as
	// offline and frees their current_task_id pointer, without touching
	// the task row itself (spec.md §4.3).
	SweepOfflineWorkers(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]string, error)

	QueueStats(ctx context.Context) (QueueStats, error)

	InsertConversation(ctx context.Context, c *domain.LLMConversation) (string, error)
	AppendMessage(ctx context.Context, conversationID string, msg domain.LLMMessage) error
	FinishConversation(ctx context.Context, conversationID string, success bool, tokensPrompt, tokensCompletion int64, costEstimate float64) error
	GetConversation(ctx context.Context, id string) (*domain.LLMConversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*domain.LLMConversation, error)
	ConversationsForTask(ctx context.Context, taskID string) ([]*domain.LLMConversation, error)
	ConversationStats(ctx context.Context) (ConversationStatsSummary, error)

	Close()
}
