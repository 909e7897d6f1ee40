package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────

	APITasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "api",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks submitted through the HTTP API, labelled by problem_id.",
	}, []string{"problem_id"})

	APIRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskrunner",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "method", "status"})

	// ─── Queue ───────────────────────────────────────────────────────────────

	QueueClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "queue",
		Name:      "claims_total",
		Help:      "Total ClaimNext attempts, labelled by backend_type and outcome.",
	}, []string{"backend_type", "outcome"})

	QueueClaimDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskrunner",
		Subsystem: "queue",
		Name:      "claim_duration_seconds",
		Help:      "Time spent inside a single ClaimNext call.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend_type"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskrunner",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending tasks currently queued, labelled by backend_type.",
	}, []string{"backend_type"})

	// ─── Worker pool ─────────────────────────────────────────────────────────

	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskrunner",
		Subsystem: "workerpool",
		Name:      "size",
		Help:      "Configured number of worker loop goroutines.",
	})

	WorkerTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "workerpool",
		Name:      "tasks_processed_total",
		Help:      "Total tasks processed, labelled by backend_type and terminal status.",
	}, []string{"backend_type", "status"})

	WorkerTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskrunner",
		Subsystem: "workerpool",
		Name:      "task_duration_seconds",
		Help:      "End-to-end task execution time in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
	}, []string{"backend_type"})

	// ─── Sweeper ─────────────────────────────────────────────────────────────

	SweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Total sweep ticks executed by the leader replica.",
	})

	SweeperTasksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "sweeper",
		Name:      "tasks_expired_total",
		Help:      "Total running tasks flipped to timeout by the sweeper.",
	})

	SweeperWorkersOffline = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "sweeper",
		Name:      "workers_offline_total",
		Help:      "Total workers marked offline due to a stale heartbeat.",
	})

	// ─── Events ──────────────────────────────────────────────────────────────

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskrunner",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total lifecycle events published to Kafka, labelled by event type and outcome.",
	}, []string{"event_type", "outcome"})
)
