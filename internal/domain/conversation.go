package domain

import "time"

// MessageRole is the speaker of an LLMMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// LLMMessage is one turn in an LLMConversation, totally ordered within
// the conversation by append order (spec.md §5).
type LLMMessage struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
	ToolCalls []ToolCall
}

// ToolCall records a single tool invocation the agent made mid-turn.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	Result    string
}

// LLMConversation is one agent session within a Task (spec.md §3).
type LLMConversation struct {
	ID               string
	TaskID           string
	Model            string
	Messages         []LLMMessage
	TokensPrompt     int64
	TokensCompletion int64
	CostEstimate     float64
	Metadata         ConversationMetadata
	Success          *bool
}

// ConversationMetadata carries the fields spec.md §3 calls out by name:
// problem_id, worker_id, and cluster_id (the Kind cluster the worker ran
// in — spec.md §9's open question, resolved 1:1 with worker_id).
type ConversationMetadata struct {
	ProblemID string
	WorkerID  string
	ClusterID string
	Extra     map[string]any
}

// ClusterIDForWorker derives the Kind cluster identifier for a worker,
// per SPEC_FULL.md §3's resolution of the original's 1:1 mapping.
func ClusterIDForWorker(workerID string) string {
	return "aiopslab-" + workerID
}
