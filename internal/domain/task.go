package domain

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskTimeout   TaskStatus = "timeout"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further state transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	default:
		return false
	}
}

const defaultBackendType = "internal"

// Task is the core unit of work: an AIOpsLab problem run.
type Task struct {
	ID           string
	ProblemID    string
	Parameters   map[string]any
	Priority     int
	Status       TaskStatus
	WorkerID     *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	TimeoutAt    *time.Time
	Result       map[string]any
	ErrorDetails map[string]any
}

// BackendType returns parameters.backend_type, defaulting to "internal"
// when absent, per spec.md §3/§4.2.
func (t *Task) BackendType() string {
	return backendTypeOf(t.Parameters)
}

func backendTypeOf(parameters map[string]any) string {
	if v, ok := parameters["backend_type"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultBackendType
}

// TimeoutMinutes returns parameters.timeout_minutes as a float64 (minutes
// may be fractional, e.g. 0.01 in the spec's timeout test scenario).
func (t *Task) TimeoutMinutes(defaultMinutes float64) float64 {
	if v, ok := t.Parameters["timeout_minutes"]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return defaultMinutes
}

// SupportedProblemsHint is unused on Task itself; capability hints travel
// with the claiming Worker. Kept here only as documentation anchor for
// spec.md §4.2 step 3.
const SupportedProblemsHintDoc = "worker.Capabilities.SupportedProblems"

// TaskLog is an append-only log line scoped to a task.
type TaskLog struct {
	TaskID    string
	Seq       int64
	Level     LogLevel
	Timestamp time.Time
	Message   string
	Context   map[string]any
}

// LogLevel is the severity of a TaskLog entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)
