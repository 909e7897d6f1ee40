package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/store"
)

type fakeStore struct {
	store.Store
	workers     map[string]*domain.Worker
	upsertErr   error
	heartbeatID string
}

func newFakeStore() *fakeStore {
	return &fakeStore{workers: make(map[string]*domain.Worker)}
}

func (f *fakeStore) UpsertWorker(_ context.Context, w *domain.Worker) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
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

func (f *fakeStore) Heartbeat(_ context.Context, workerID string, status domain.WorkerStatus, _ *string) error {
	f.heartbeatID = workerID
	w, ok := f.workers[workerID]
	if !ok {
		return &domain.NotFoundError{Resource: "worker", ID: workerID}
	}
	w.Status = status
	w.LastHeartbeat = time.Now().UTC()
	return nil
}

func TestRegistry_Register_Success(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, slog.Default())

	w, err := reg.Register(context.Background(), "worker-001-internal", "internal", domain.Capabilities{}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerIdle, w.Status)
	assert.Contains(t, fs.workers, "worker-001-internal")
}

func TestRegistry_Register_RejectsInvalidID(t *testing.T) {
	reg := New(newFakeStore(), slog.Default())

	_, err := reg.Register(context.Background(), "not-a-worker", "internal", domain.Capabilities{}, nil)
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRegistry_Heartbeat_UpdatesStatus(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, slog.Default())
	_, err := reg.Register(context.Background(), "worker-002-k8s", "orchestrator", domain.Capabilities{}, nil)
	require.NoError(t, err)

	err = reg.Heartbeat(context.Background(), "worker-002-k8s", domain.WorkerBusy, nil)
	require.NoError(t, err)
	assert.Equal(t, "worker-002-k8s", fs.heartbeatID)
	assert.Equal(t, domain.WorkerBusy, fs.workers["worker-002-k8s"].Status)
}

func TestRegistry_Heartbeat_UnknownWorkerErrors(t *testing.T) {
	reg := New(newFakeStore(), slog.Default())

	err := reg.Heartbeat(context.Background(), "worker-999-ghost", domain.WorkerIdle, nil)
	require.Error(t, err)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
