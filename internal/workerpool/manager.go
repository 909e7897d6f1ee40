// Package workerpool owns the in-process worker loops that claim and
// execute tasks (spec.md §4.4).
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/executor"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// MaxWorkers bounds Manager.SetCount (spec.md §4.4 "clamped to [0,50]").
const MaxWorkers = 50

// Config controls how the Manager boots and paces its loops.
type Config struct {
	BackendType      string
	Capabilities     domain.Capabilities
	HeartbeatTimeout time.Duration
	PollConfig       queue.PollConfig
}

// Manager owns N logical worker loops sharing one Store/Queue/Registry.
// It is the single writer for its loop registry (a mutex-guarded map),
// per spec.md §5; individual loops own their own state machine.
type Manager struct {
	store    store.Store
	queue    *queue.Queue
	registry *registry.Registry
	executor *executor.Registry
	events   *events.Bus
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	loops   map[string]*loop
	order   []string // insertion order, oldest first; drives deterministic shrink selection
	nextIdx int
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a Manager over the given dependencies. bus may be nil, in
// which case loops skip lifecycle event publication entirely.
func New(s store.Store, q *queue.Queue, reg *registry.Registry, execReg *executor.Registry, bus *events.Bus, logger *slog.Logger, cfg Config) *Manager {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = registry.DefaultHeartbeatTimeout
	}
	return &Manager{
		store:    s,
		queue:    q,
		registry: reg,
		executor: execReg,
		events:   bus,
		logger:   logger,
		cfg:      cfg,
		loops:    make(map[string]*loop),
	}
}

// Start boots the background context the loops run under. It does not
// start any loops itself — call SetCount to reach the desired boot size
// (spec.md §4.4 "Boot" derives N from auto_start_workers/num_internal_workers
// in internal/cliapp, which then calls SetCount).
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// SetCount scales the pool to exactly n loops, clamped to [0, MaxWorkers].
// Growing starts new loops with freshly minted IDs; shrinking signals the
// oldest loops to drain first (spec.md §4.4 "signal oldest idle loops to
// drain"), tracked via m.order since map iteration order is unspecified.
func (m *Manager) SetCount(n int) error {
	if n < 0 {
		n = 0
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return fmt.Errorf("workerpool: Start must be called before SetCount")
	}

	current := len(m.loops)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			m.nextIdx++
			id := fmt.Sprintf("worker-%03d-%s", m.nextIdx, m.cfg.BackendType)
			l := newLoop(id, m.cfg.BackendType, m.cfg.Capabilities, loopDeps{
				queue:          m.queue,
				registry:       m.registry,
				store:          m.store,
				executor:       m.executor,
				events:         m.events,
				logger:         m.logger,
				heartbeatEvery: m.cfg.HeartbeatTimeout / 3,
			})
			m.loops[id] = l
			m.order = append(m.order, id)
			go l.run(m.ctx)
		}
	case n < current:
		toStop := current - n
		stopping := m.order[:toStop]
		m.order = m.order[toStop:]
		for _, id := range stopping {
			l := m.loops[id]
			delete(m.loops, id)
			go l.stop() // stop() blocks until drained; don't hold mu while waiting
		}
	}

	telemetry.WorkerPoolSize.Set(float64(len(m.loops)))
	return nil
}

// Count returns the current number of loops.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// States reports every loop's current LoopState, keyed by worker ID —
// used by the HTTP ops surface and tests.
func (m *Manager) States() map[string]LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LoopState, len(m.loops))
	for id, l := range m.loops {
		out[id] = l.State()
	}
	return out
}

// Stop drains every loop and cancels the shared context. It blocks
// until all loops have confirmed they stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.loops = make(map[string]*loop)
	m.order = nil
	cancel := m.cancel
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *loop) {
			defer wg.Done()
			l.stop()
		}(l)
	}
	wg.Wait()

	if cancel != nil {
		cancel()
	}
	telemetry.WorkerPoolSize.Set(0)
}
