package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// claimBatchSize bounds how many locked pending candidates ClaimNext
// examines in application code before giving up (spec.md §4.2 step 3:
// the substring capability check can't be pushed into SQL generically).
const claimBatchSize = 25

// postgresStore implements Store on top of a pgxpool.Pool.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgxpool.Pool with the Store interface.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity, adapted from the
// pack's pgxpool bootstrap pattern.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *postgresStore) Close() { s.pool.Close() }

// ── tasks ────────────────────────────────────────────────────────────────

func (s *postgresStore) InsertTask(ctx context.Context, t *domain.Task) (string, error) {
	params, err := marshalMap(t.Parameters)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (problem_id, parameters, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.ProblemID, params, t.Priority, domain.TaskPending, t.CreatedAt)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *postgresStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, taskSelectColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

func (s *postgresStore) ListTasks(ctx context.Context, filter TaskFilter, page Pagination) ([]*domain.Task, error) {
	query := taskSelectColumns + ` FROM tasks WHERE 1=1`
	args := make([]any, 0, 4)
	argN := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(*filter.Status))
		argN++
	}
	if filter.BackendType != nil {
		query += fmt.Sprintf(" AND COALESCE(parameters->>'backend_type', 'internal') = $%d", argN)
		args = append(args, *filter.BackendType)
		argN++
	}
	if filter.WorkerID != nil {
		query += fmt.Sprintf(" AND worker_id = $%d", argN)
		args = append(args, *filter.WorkerID)
		argN++
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, page.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *postgresStore) CancelTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, domain.TaskCancelled, time.Now().UTC(), id, domain.TaskPending, domain.TaskRunning)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "doesn't exist" from "exists but not cancellable".
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return &domain.ConflictError{Message: fmt.Sprintf("task %s is not pending or running", id)}
	}
	return nil
}

func (s *postgresStore) TaskStats(ctx context.Context) (TaskStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return TaskStats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := TaskStats{ByStatus: make(map[domain.TaskStatus]int64)}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return TaskStats{}, fmt.Errorf("scan task stats: %w", err)
		}
		stats.ByStatus[domain.TaskStatus(status)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// ── task logs ────────────────────────────────────────────────────────────

// AppendLog serializes next-seq computation with pg_advisory_xact_lock
// so two concurrent writers for the same task (e.g. an executor's
// mid-task log racing the sweeper's expiry error log) can't both
// compute the same seq and collide on task_logs' (task_id, seq)
// primary key. The lock is scoped to the transaction and releases on
// commit or rollback.
func (s *postgresStore) AppendLog(ctx context.Context, taskID string, level domain.LogLevel, message string, fields map[string]any) (*domain.TaskLog, error) {
	ctxJSON, err := marshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal log context: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append log tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, taskID); err != nil {
		return nil, fmt.Errorf("acquire log seq lock for task %s: %w", taskID, err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO task_logs (task_id, seq, level, ts, message, context)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM task_logs WHERE task_id = $1), 0) + 1, $2, $3, $4, $5)
		RETURNING seq, ts
	`, taskID, string(level), time.Now().UTC(), message, ctxJSON)

	entry := &domain.TaskLog{TaskID: taskID, Level: level, Message: message, Context: fields}
	if err := row.Scan(&entry.Seq, &entry.Timestamp); err != nil {
		return nil, fmt.Errorf("append log for task %s: %w", taskID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append log for task %s: %w", taskID, err)
	}
	return entry, nil
}

func (s *postgresStore) ListLogs(ctx context.Context, taskID string, filter TaskLogFilter) ([]*domain.TaskLog, error) {
	query := `SELECT task_id, seq, level, ts, message, context FROM task_logs WHERE task_id = $1`
	args := []any{taskID}
	if filter.Level != nil {
		query += " AND level = $2"
		args = append(args, string(*filter.Level))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var logs []*domain.TaskLog
	for rows.Next() {
		var entry domain.TaskLog
		var levelStr string
		var ctxJSON []byte
		if err := rows.Scan(&entry.TaskID, &entry.Seq, &levelStr, &entry.Timestamp, &entry.Message, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entry.Level = domain.LogLevel(levelStr)
		entry.Context, err = unmarshalMap(ctxJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal log context: %w", err)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// ── workers ──────────────────────────────────────────────────────────────

func (s *postgresStore) UpsertWorker(ctx context.Context, w *domain.Worker) error {
	metadata, err := marshalMap(w.Metadata)
	if err != nil {
		return fmt.Errorf("marshal worker metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workers (id, backend_type, max_parallel_tasks, supported_problems, metadata, status, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			backend_type = EXCLUDED.backend_type,
			max_parallel_tasks = EXCLUDED.max_parallel_tasks,
			supported_problems = EXCLUDED.supported_problems,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat
	`, w.ID, w.BackendType, w.Capabilities.MaxParallelTasks, w.Capabilities.SupportedProblems, metadata, string(w.Status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert worker %s: %w", w.ID, err)
	}
	return nil
}

func (s *postgresStore) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	row := s.pool.QueryRow(ctx, workerSelectColumns+` FROM workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "worker", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get worker %s: %w", id, err)
	}
	return w, nil
}

func (s *postgresStore) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.pool.Query(ctx, workerSelectColumns+` FROM workers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (s *postgresStore) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentTaskID *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workers SET status = $1, current_task_id = $2, last_heartbeat = $3
		WHERE id = $4
	`, string(status), currentTaskID, time.Now().UTC(), workerID)
	if err != nil {
		return fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "worker", ID: workerID}
	}
	return nil
}

// ── claim ────────────────────────────────────────────────────────────────

// ClaimNext implements spec.md §4.2. It locks a batch of pending
// candidates matching backend affinity (ordered priority desc,
// created_at asc), applies the substring capability filter in Go over
// the locked rows, and updates the first match plus the claiming
// worker's row, all within one transaction.
func (s *postgresStore) ClaimNext(ctx context.Context, workerID, backendType string, supportedProblems []string) (*domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, taskSelectColumns+`
		FROM tasks
		WHERE status = $1
		  AND COALESCE(parameters->>'backend_type', 'internal') = $2
		ORDER BY priority DESC, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, domain.TaskPending, backendType, claimBatchSize)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}

	var candidates []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		candidates = append(candidates, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	caps := domain.Capabilities{SupportedProblems: supportedProblems}
	var chosen *domain.Task
	for _, c := range candidates {
		if caps.Accepts(c.ProblemID) {
			chosen = c
			break
		}
	}
	if chosen == nil {
		// Nothing eligible; the transaction rolls back and releases locks.
		return nil, nil
	}

	now := time.Now().UTC()
	timeoutMinutes := chosen.TimeoutMinutes(30)
	timeoutAt := now.Add(time.Duration(timeoutMinutes * float64(time.Minute)))

	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, worker_id = $2, started_at = $3, timeout_at = $4
		WHERE id = $5
	`, domain.TaskRunning, workerID, now, timeoutAt, chosen.ID); err != nil {
		return nil, fmt.Errorf("claim update task %s: %w", chosen.ID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workers SET status = $1, current_task_id = $2, last_heartbeat = $3
		WHERE id = $4
	`, domain.WorkerBusy, chosen.ID, now, workerID); err != nil {
		return nil, fmt.Errorf("claim update worker %s: %w", workerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	chosen.Status = domain.TaskRunning
	chosen.WorkerID = &workerID
	chosen.StartedAt = &now
	chosen.TimeoutAt = &timeoutAt
	return chosen, nil
}

func (s *postgresStore) CompleteTask(ctx context.Context, taskID, workerID string, result map[string]any) error {
	return s.finishTask(ctx, taskID, workerID, domain.TaskCompleted, result, nil)
}

func (s *postgresStore) FailTask(ctx context.Context, taskID, workerID string, errorDetails map[string]any) error {
	return s.finishTask(ctx, taskID, workerID, domain.TaskFailed, nil, errorDetails)
}

// finishTask implements the shared shape of complete_task/fail_task
// (spec.md §4.1): both require current status = running, and both
// enforce that the calling worker actually owns the task (spec.md §9
// "Worker-ownership check").
func (s *postgresStore) finishTask(ctx context.Context, taskID, workerID string, status domain.TaskStatus, result, errorDetails map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finish task: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT status, worker_id FROM tasks WHERE id = $1 FOR UPDATE`, taskID)
	var currentStatus string
	var currentWorker *string
	if err := row.Scan(&currentStatus, &currentWorker); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.NotFoundError{Resource: "task", ID: taskID}
		}
		return fmt.Errorf("lock task %s: %w", taskID, err)
	}

	if domain.TaskStatus(currentStatus) != domain.TaskRunning {
		return &domain.ConflictError{Message: fmt.Sprintf("task %s is %s, not running", taskID, currentStatus)}
	}
	if currentWorker == nil || *currentWorker != workerID {
		return &domain.ConflictError{Message: fmt.Sprintf("task %s is not owned by worker %s", taskID, workerID)}
	}

	resultJSON, err := marshalMap(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	errJSON, err := marshalMap(errorDetails)
	if err != nil {
		return fmt.Errorf("marshal error details: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, result = $2, error_details = $3, completed_at = $4
		WHERE id = $5
	`, string(status), resultJSON, errJSON, now, taskID); err != nil {
		return fmt.Errorf("finish task %s: %w", taskID, err)
	}

	counterColumn := "tasks_completed"
	if status == domain.TaskFailed {
		counterColumn = "tasks_failed"
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workers SET status = $1, current_task_id = NULL, `+counterColumn+` = `+counterColumn+` + 1, last_heartbeat = $2
		WHERE id = $3
	`, domain.WorkerIdle, now, workerID); err != nil {
		return fmt.Errorf("release worker %s: %w", workerID, err)
	}

	return tx.Commit(ctx)
}

// ── sweeper primitives ───────────────────────────────────────────────────

func (s *postgresStore) ExpireRunning(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin expire: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, worker_id FROM tasks
		WHERE status = $1 AND timeout_at IS NOT NULL AND timeout_at <= $2
		FOR UPDATE SKIP LOCKED
	`, domain.TaskRunning, now)
	if err != nil {
		return nil, fmt.Errorf("select expired tasks: %w", err)
	}

	type expired struct {
		id       string
		workerID *string
	}
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.workerID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired task: %w", err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, 0, len(batch))
	for _, e := range batch {
		errJSON, _ := marshalMap(map[string]any{"reason": "deadline exceeded"})
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET status = $1, completed_at = $2, error_details = $3
			WHERE id = $4
		`, domain.TaskTimeout, now, errJSON, e.id); err != nil {
			return nil, fmt.Errorf("expire task %s: %w", e.id, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO task_logs (task_id, seq, level, ts, message, context)
			VALUES ($1, COALESCE((SELECT MAX(seq) FROM task_logs WHERE task_id = $1), 0) + 1, $2, $3, $4, '{}'::jsonb)
		`, e.id, string(domain.LogError), now, "task timed out: deadline exceeded"); err != nil {
			return nil, fmt.Errorf("log expiry for task %s: %w", e.id, err)
		}
		if e.workerID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE workers SET status = $1, current_task_id = NULL
				WHERE id = $2 AND current_task_id = $3
			`, domain.WorkerIdle, *e.workerID, e.id); err != nil {
				return nil, fmt.Errorf("release worker after timeout %s: %w", *e.workerID, err)
			}
		}
		ids = append(ids, e.id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}
	return ids, nil
}

func (s *postgresStore) SweepOfflineWorkers(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]string, error) {
	cutoff := now.Add(-heartbeatTimeout)
	rows, err := s.pool.Query(ctx, `
		UPDATE workers SET status = $1, current_task_id = NULL
		WHERE status != $1 AND last_heartbeat < $2
		RETURNING id
	`, domain.WorkerOffline, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep offline workers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offline worker: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *postgresStore) QueueStats(ctx context.Context) (QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(parameters->>'backend_type', 'internal') AS backend, status, COUNT(*)
		FROM tasks
		WHERE status IN ($1, $2)
		GROUP BY backend, status
	`, domain.TaskPending, domain.TaskRunning)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := QueueStats{
		PendingByBackend: make(map[string]int64),
		RunningByBackend: make(map[string]int64),
	}
	for rows.Next() {
		var backend, status string
		var count int64
		if err := rows.Scan(&backend, &status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		switch domain.TaskStatus(status) {
		case domain.TaskPending:
			stats.PendingByBackend[backend] = count
			stats.TotalPending += count
		case domain.TaskRunning:
			stats.RunningByBackend[backend] = count
			stats.TotalRunning += count
		}
	}
	return stats, rows.Err()
}

// ── conversations ────────────────────────────────────────────────────────

func (s *postgresStore) InsertConversation(ctx context.Context, c *domain.LLMConversation) (string, error) {
	metadata, err := marshalMap(conversationMetadataToMap(c.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal conversation metadata: %w", err)
	}
	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return "", fmt.Errorf("marshal conversation messages: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO llm_conversations (task_id, model, messages, tokens_prompt, tokens_completion, cost_estimate, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, c.TaskID, c.Model, messages, c.TokensPrompt, c.TokensCompletion, c.CostEstimate, metadata)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *postgresStore) AppendMessage(ctx context.Context, conversationID string, msg domain.LLMMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE llm_conversations SET messages = messages || $1::jsonb
		WHERE id = $2
	`, fmt.Sprintf("[%s]", encoded), conversationID)
	if err != nil {
		return fmt.Errorf("append message to conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return nil
}

func (s *postgresStore) FinishConversation(ctx context.Context, conversationID string, success bool, tokensPrompt, tokensCompletion int64, costEstimate float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE llm_conversations
		SET success = $1, tokens_prompt = $2, tokens_completion = $3, cost_estimate = $4
		WHERE id = $5
	`, success, tokensPrompt, tokensCompletion, costEstimate, conversationID)
	if err != nil {
		return fmt.Errorf("finish conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return nil
}

func (s *postgresStore) GetConversation(ctx context.Context, id string) (*domain.LLMConversation, error) {
	row := s.pool.QueryRow(ctx, conversationSelectColumns+` FROM llm_conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *postgresStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*domain.LLMConversation, error) {
	query := conversationSelectColumns + ` FROM llm_conversations WHERE 1=1`
	args := make([]any, 0, 2)
	argN := 1
	if filter.TaskID != nil {
		query += fmt.Sprintf(" AND task_id = $%d", argN)
		args = append(args, *filter.TaskID)
		argN++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.LLMConversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if filter.Role != nil && !hasMessageFromRole(c.Messages, *filter.Role) {
			continue
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *postgresStore) ConversationsForTask(ctx context.Context, taskID string) ([]*domain.LLMConversation, error) {
	return s.ListConversations(ctx, ConversationFilter{TaskID: &taskID, Limit: 200})
}

func (s *postgresStore) ConversationStats(ctx context.Context) (ConversationStatsSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_prompt), 0),
			COALESCE(SUM(tokens_completion), 0),
			COALESCE(SUM(cost_estimate), 0),
			COUNT(*) FILTER (WHERE success = TRUE),
			COUNT(*) FILTER (WHERE success = FALSE)
		FROM llm_conversations
	`)
	var summary ConversationStatsSummary
	if err := row.Scan(
		&summary.TotalConversations, &summary.TotalTokensPrompt, &summary.TotalTokensCompletion,
		&summary.TotalCostEstimate, &summary.SuccessCount, &summary.FailureCount,
	); err != nil {
		return ConversationStatsSummary{}, fmt.Errorf("conversation stats: %w", err)
	}
	return summary, nil
}

func hasMessageFromRole(messages []domain.LLMMessage, role domain.MessageRole) bool {
	for _, m := range messages {
		if m.Role == role {
			return true
		}
	}
	return false
}
