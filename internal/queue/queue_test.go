package queue

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

// fakeStore implements store.Store with just enough behavior to drive
// Queue's decision logic; every unused method panics if called.
type fakeStore struct {
	store.Store
	claimResult *domain.Task
	claimErr    error
	stats       store.QueueStats
}

func (f *fakeStore) ClaimNext(_ context.Context, _ string, _ string, _ []string) (*domain.Task, error) {
	return f.claimResult, f.claimErr
}

func (f *fakeStore) QueueStats(_ context.Context) (store.QueueStats, error) {
	return f.stats, nil
}

func newTestQueue(fs *fakeStore) *Queue {
	return New(fs, slog.Default(), DefaultPollConfig)
}

func TestQueue_Claim_ReturnsTask(t *testing.T) {
	task := &domain.Task{ID: "t-1", ProblemID: "misconfig-app-hotel-res"}
	q := newTestQueue(&fakeStore{claimResult: task})

	got, err := q.Claim(context.Background(), "worker-001-internal", "internal", nil)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestQueue_Claim_EmptyQueueReturnsNilNil(t *testing.T) {
	q := newTestQueue(&fakeStore{claimResult: nil, claimErr: nil})

	got, err := q.Claim(context.Background(), "worker-001-internal", "internal", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_Claim_PropagatesError(t *testing.T) {
	q := newTestQueue(&fakeStore{claimErr: assert.AnError})

	_, err := q.Claim(context.Background(), "worker-001-internal", "internal", nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestQueue_NextBackoff_DoublesOnEmpty(t *testing.T) {
	q := newTestQueue(&fakeStore{})
	q.cfg = PollConfig{MinInterval: 100 * time.Millisecond, MaxInterval: time.Second}
	q.backoff = 100 * time.Millisecond

	first := q.NextBackoff(false)
	second := q.NextBackoff(false)

	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Greater(t, second, first-50*time.Millisecond) // backoff grows, allowing for jitter
}

func TestQueue_NextBackoff_ResetsOnClaim(t *testing.T) {
	q := newTestQueue(&fakeStore{})
	q.backoff = 2 * time.Second

	delay := q.NextBackoff(true)
	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, q.cfg.MinInterval, q.backoff)
}

func TestQueue_NextBackoff_CapsAtMax(t *testing.T) {
	q := newTestQueue(&fakeStore{})
	q.cfg = PollConfig{MinInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond}
	q.backoff = 250 * time.Millisecond

	for i := 0; i < 5; i++ {
		q.NextBackoff(false)
	}
	assert.LessOrEqual(t, q.backoff, q.cfg.MaxInterval)
}

func TestQueue_Stats_SetsGauge(t *testing.T) {
	stats := store.QueueStats{
		PendingByBackend: map[string]int64{"internal": 3},
		TotalPending:     3,
	}
	q := newTestQueue(&fakeStore{stats: stats})

	got, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalPending)
}
