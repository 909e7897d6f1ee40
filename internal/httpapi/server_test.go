package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
)

// fakeStore implements store.Store with just enough behavior to drive
// the HTTP handlers under test; every unused method panics if called.
type fakeStore struct {
	store.Store
	tasks     map[string]*domain.Task
	workers   map[string]*domain.Worker
	cancelErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*domain.Task{}, workers: map[string]*domain.Worker{}}
}

func (f *fakeStore) InsertTask(_ context.Context, t *domain.Task) (string, error) {
	id := "task-" + t.ProblemID
	t.ID = id
	f.tasks[id] = t
	return id, nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "task", ID: id}
	}
	return t, nil
}

func (f *fakeStore) ListTasks(_ context.Context, _ store.TaskFilter, _ store.Pagination) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) CancelTask(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return &domain.NotFoundError{Resource: "task", ID: id}
	}
	t.Status = domain.TaskCancelled
	return nil
}

func (f *fakeStore) TaskStats(_ context.Context) (store.TaskStats, error) {
	return store.TaskStats{Total: int64(len(f.tasks))}, nil
}

func (f *fakeStore) ListLogs(_ context.Context, _ string, _ store.TaskLogFilter) ([]*domain.TaskLog, error) {
	return nil, nil
}

func (f *fakeStore) UpsertWorker(_ context.Context, w *domain.Worker) error {
	f.workers[w.ID] = w
	return nil
}

func (f *fakeStore) GetWorker(_ context.Context, id string) (*domain.Worker, error) {
	w, ok := f.workers[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "worker", ID: id}
	}
	return w, nil
}

func (f *fakeStore) ListWorkers(_ context.Context) ([]*domain.Worker, error) {
	out := make([]*domain.Worker, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) Heartbeat(_ context.Context, id string, status domain.WorkerStatus, _ *string) error {
	w, ok := f.workers[id]
	if !ok {
		return &domain.NotFoundError{Resource: "worker", ID: id}
	}
	w.Status = status
	return nil
}

func (f *fakeStore) ClaimNext(_ context.Context, _, _ string, _ []string) (*domain.Task, error) {
	return nil, nil
}

func (f *fakeStore) QueueStats(_ context.Context) (store.QueueStats, error) {
	return store.QueueStats{}, nil
}

func newTestDeps(fs *fakeStore) Deps {
	logger := slog.Default()
	return Deps{
		Store:       fs,
		Queue:       queue.New(fs, logger, queue.DefaultPollConfig),
		Registry:    registry.New(fs, logger),
		Defaults:    Defaults{MaxSteps: 10, TimeoutMinutes: 30, Priority: 0, AgentModel: "gpt-4"},
		Logger:      logger,
		Version:     "test",
		RootContext: context.Background(),
	}
}

func TestCreateTask_AppliesDefaults(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	body := bytes.NewBufferString(`{"problem_id":"misconfig-app-hotel-res"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp taskResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "misconfig-app-hotel-res", resp.ProblemID)
	assert.Equal(t, "internal", resp.Parameters["backend_type"])
	assert.EqualValues(t, 30, resp.Parameters["timeout_minutes"])
}

func TestCreateTask_AppliesAgentModelDefault(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	body := bytes.NewBufferString(`{"problem_id":"misconfig-app-hotel-res"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp taskResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	agentConfig, ok := resp.Parameters["agent_config"].(map[string]any)
	require.True(t, ok, "agent_config should be present in parameters")
	assert.Equal(t, "gpt-4", agentConfig["model"])
}

func TestCreateTask_PreservesCallerAgentModel(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	body := bytes.NewBufferString(`{"problem_id":"misconfig-app-hotel-res","parameters":{"agent_config":{"model":"claude-3-opus"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp taskResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	agentConfig, ok := resp.Parameters["agent_config"].(map[string]any)
	require.True(t, ok, "agent_config should be present in parameters")
	assert.Equal(t, "claude-3-opus", agentConfig["model"])
}

func TestCreateTask_MissingProblemID_Returns400(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFound_Returns404(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NotFound", body.Error.Kind)
}

func TestCancelTask_Conflict_Returns409(t *testing.T) {
	fs := newFakeStore()
	fs.cancelErr = &domain.ConflictError{Message: "task already terminal"}
	r := NewRouter(newTestDeps(fs))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-x/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterWorker_InvalidID_Returns400(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	body := bytes.NewBufferString(`{"worker_id":"not-a-valid-id","backend_type":"internal"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers/register", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterWorker_Success(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	body := bytes.NewBufferString(`{"worker_id":"worker-001-internal","backend_type":"internal","capabilities":{"supported_problems":["hotel"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers/register", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, fs.workers, "worker-001-internal")
}

func TestInternalScale_OutOfRange_Returns400(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers/internal/scale?num_workers=51", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReturnsOK(t *testing.T) {
	fs := newFakeStore()
	r := NewRouter(newTestDeps(fs))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
