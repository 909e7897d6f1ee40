package domain_test

import (
	"testing"

	"github.com/aiopslab/taskrunner/internal/domain"
)

func TestTaskStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.TaskStatus
		want   string
	}{
		{domain.TaskPending, "pending"},
		{domain.TaskRunning, "running"},
		{domain.TaskCompleted, "completed"},
		{domain.TaskFailed, "failed"},
		{domain.TaskTimeout, "timeout"},
		{domain.TaskCancelled, "cancelled"},
	}
	for _, tt := range tests {
		if string(tt.status) != tt.want {
			t.Errorf("status value = %q, want %q", tt.status, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []domain.TaskStatus{domain.TaskCompleted, domain.TaskFailed, domain.TaskTimeout, domain.TaskCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	nonTerminal := []domain.TaskStatus{domain.TaskPending, domain.TaskRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestBackendTypeDefaultsToInternal(t *testing.T) {
	task := &domain.Task{Parameters: map[string]any{}}
	if got := task.BackendType(); got != "internal" {
		t.Errorf("BackendType() = %q, want %q", got, "internal")
	}
}

func TestBackendTypeFromParameters(t *testing.T) {
	task := &domain.Task{Parameters: map[string]any{"backend_type": "orchestrator"}}
	if got := task.BackendType(); got != "orchestrator" {
		t.Errorf("BackendType() = %q, want %q", got, "orchestrator")
	}
}

func TestTimeoutMinutesDefault(t *testing.T) {
	task := &domain.Task{Parameters: map[string]any{}}
	if got := task.TimeoutMinutes(30); got != 30 {
		t.Errorf("TimeoutMinutes(30) = %v, want 30", got)
	}
}

func TestTimeoutMinutesFractional(t *testing.T) {
	task := &domain.Task{Parameters: map[string]any{"timeout_minutes": 0.01}}
	if got := task.TimeoutMinutes(30); got != 0.01 {
		t.Errorf("TimeoutMinutes() = %v, want 0.01", got)
	}
}
