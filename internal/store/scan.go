package store

import (
	"encoding/json"

	"github.com/aiopslab/taskrunner/internal/domain"
)

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query), so
// the scan helpers below work for both single-row and multi-row calls.
type row interface {
	Scan(dest ...any) error
}

const taskSelectColumns = `
	SELECT id, problem_id, parameters, priority, status, worker_id,
	       created_at, started_at, completed_at, timeout_at, result, error_details`

func scanTask(r row) (*domain.Task, error) {
	var t domain.Task
	var paramsJSON, resultJSON, errJSON []byte
	if err := r.Scan(
		&t.ID, &t.ProblemID, &paramsJSON, &t.Priority, &t.Status, &t.WorkerID,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.TimeoutAt, &resultJSON, &errJSON,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Parameters, err = unmarshalMap(paramsJSON); err != nil {
		return nil, err
	}
	if t.Result, err = unmarshalMap(resultJSON); err != nil {
		return nil, err
	}
	if t.ErrorDetails, err = unmarshalMap(errJSON); err != nil {
		return nil, err
	}
	return &t, nil
}

const workerSelectColumns = `
	SELECT id, backend_type, max_parallel_tasks, supported_problems, metadata,
	       status, last_heartbeat, current_task_id, tasks_completed, tasks_failed`

func scanWorker(r row) (*domain.Worker, error) {
	var w domain.Worker
	var metadataJSON []byte
	if err := r.Scan(
		&w.ID, &w.BackendType, &w.Capabilities.MaxParallelTasks, &w.Capabilities.SupportedProblems, &metadataJSON,
		&w.Status, &w.LastHeartbeat, &w.CurrentTaskID, &w.TasksCompleted, &w.TasksFailed,
	); err != nil {
		return nil, err
	}

	metadata, err := unmarshalMap(metadataJSON)
	if err != nil {
		return nil, err
	}
	w.Metadata = metadata
	return &w, nil
}

const conversationSelectColumns = `
	SELECT id, task_id, model, messages, tokens_prompt, tokens_completion, cost_estimate, metadata, success`

func scanConversation(r row) (*domain.LLMConversation, error) {
	var c domain.LLMConversation
	var messagesJSON, metadataJSON []byte
	if err := r.Scan(
		&c.ID, &c.TaskID, &c.Model, &messagesJSON, &c.TokensPrompt, &c.TokensCompletion,
		&c.CostEstimate, &metadataJSON, &c.Success,
	); err != nil {
		return nil, err
	}

	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &c.Messages); err != nil {
			return nil, err
		}
	}
	metadata, err := unmarshalMap(metadataJSON)
	if err != nil {
		return nil, err
	}
	c.Metadata = conversationMetadataFromMap(metadata)
	return &c, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func conversationMetadataToMap(m domain.ConversationMetadata) map[string]any {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.ProblemID != "" {
		out["problem_id"] = m.ProblemID
	}
	if m.WorkerID != "" {
		out["worker_id"] = m.WorkerID
	}
	if m.ClusterID != "" {
		out["cluster_id"] = m.ClusterID
	}
	return out
}

func conversationMetadataFromMap(m map[string]any) domain.ConversationMetadata {
	meta := domain.ConversationMetadata{Extra: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "problem_id":
			if s, ok := v.(string); ok {
				meta.ProblemID = s
			}
		case "worker_id":
			if s, ok := v.(string); ok {
				meta.WorkerID = s
			}
		case "cluster_id":
			if s, ok := v.(string); ok {
				meta.ClusterID = s
			}
		default:
			meta.Extra[k] = v
		}
	}
	return meta
}
