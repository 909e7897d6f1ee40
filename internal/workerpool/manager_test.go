package workerpool

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/executor"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
)

// fakeStore is an always-empty queue: ClaimNext never returns work, so
// loops sit idle without needing a real database.
type fakeStore struct {
	store.Store
	workers map[string]*domain.Worker
}

func newFakeStore() *fakeStore {
	return &fakeStore{workers: make(map[string]*domain.Worker)}
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

func (f *fakeStore) Heartbeat(_ context.Context, id string, status domain.WorkerStatus, _ *string) error {
	if w, ok := f.workers[id]; ok {
		w.Status = status
	}
	return nil
}

func (f *fakeStore) ClaimNext(_ context.Context, _, _ string, _ []string) (*domain.Task, error) {
	return nil, nil
}

func newTestManager(fs *fakeStore) *Manager {
	logger := slog.Default()
	q := queue.New(fs, logger, queue.PollConfig{MinInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond})
	reg := registry.New(fs, logger)
	execReg := executor.NewRegistry(&executor.InternalExecutor{})
	return New(fs, q, reg, execReg, nil, logger, Config{
		BackendType:      "internal",
		HeartbeatTimeout: 100 * time.Millisecond,
	})
}

func TestManager_SetCount_GrowsAndShrinks(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.SetCount(3))
	assert.Equal(t, 3, m.Count())

	require.NoError(t, m.SetCount(1))
	assert.Equal(t, 1, m.Count())
}

func TestManager_SetCount_ClampsToMax(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.SetCount(999))
	assert.Equal(t, MaxWorkers, m.Count())
}

func TestManager_SetCount_ClampsNegativeToZero(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.SetCount(-5))
	assert.Equal(t, 0, m.Count())
}

func TestManager_SetCount_BeforeStart_Errors(t *testing.T) {
	m := newTestManager(newFakeStore())
	err := m.SetCount(1)
	assert.Error(t, err)
}

func TestManager_Stop_DrainsAllLoops(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())

	require.NoError(t, m.SetCount(2))
	m.Stop()
	assert.Equal(t, 0, m.Count())
}

func TestManager_SetCount_ShrinksOldestFirst(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.SetCount(3))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.SetCount(1))
	time.Sleep(20 * time.Millisecond)

	states := m.States()
	require.Len(t, states, 1)
	_, kept := states["worker-003-internal"]
	assert.True(t, kept, "the most recently started loop should survive a shrink")

	assert.Equal(t, domain.WorkerOffline, fs.workers["worker-001-internal"].Status)
	assert.Equal(t, domain.WorkerOffline, fs.workers["worker-002-internal"].Status)
}

func TestManager_Stop_MarksWorkersOffline(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())

	require.NoError(t, m.SetCount(2))
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	assert.Equal(t, domain.WorkerOffline, fs.workers["worker-001-internal"].Status)
	assert.Equal(t, domain.WorkerOffline, fs.workers["worker-002-internal"].Status)
}

func TestManager_States_ReportsEveryLoop(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(fs)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.SetCount(2))
	time.Sleep(20 * time.Millisecond) // let loops past "starting"

	states := m.States()
	assert.Len(t, states, 2)
	for _, s := range states {
		assert.NotEqual(t, LoopState(""), s)
	}
}
