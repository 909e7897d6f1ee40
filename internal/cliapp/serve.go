package cliapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aiopslab/taskrunner/internal/config"
	"github.com/aiopslab/taskrunner/internal/domain"
	"github.com/aiopslab/taskrunner/internal/events"
	"github.com/aiopslab/taskrunner/internal/executor"
	"github.com/aiopslab/taskrunner/internal/httpapi"
	"github.com/aiopslab/taskrunner/internal/queue"
	"github.com/aiopslab/taskrunner/internal/registry"
	"github.com/aiopslab/taskrunner/internal/store"
	"github.com/aiopslab/taskrunner/internal/sweeper"
	"github.com/aiopslab/taskrunner/internal/workerpool"
	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// storeCancellationChecker adapts store.Store to
// executor.CancellationChecker so the orchestrator executor can poll
// for a cooperative cancel without depending on the store package
// directly.
type storeCancellationChecker struct {
	s store.Store
}

func (c storeCancellationChecker) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	task, err := c.s.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	return task.Status == domain.TaskCancelled, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskrunnerd API and background workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("database-url", "", "Postgres connection string")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables lifecycle event export")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().String("orchestrator-command", "", "path to the AIOpsLab orchestrator binary; empty disables backend_type=orchestrator")
	serveCmd.Flags().Int("num-internal-workers", 4, "number of in-process worker loops to start")
	serveCmd.Flags().Bool("auto-start-workers", true, "start worker loops on boot")
	serveCmd.Flags().Bool("enable-background-tasks", true, "run the timeout/heartbeat sweeper")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("database_url", serveCmd.Flags(), "database-url")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("orchestrator_command", serveCmd.Flags(), "orchestrator-command")
	bindFlag("num_internal_workers", serveCmd.Flags(), "num-internal-workers")
	bindFlag("auto_start_workers", serveCmd.Flags(), "auto-start-workers")
	bindFlag("enable_background_tasks", serveCmd.Flags(), "enable-background-tasks")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "taskrunnerd")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "taskrunnerd", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.NewPool(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(context.Background(), pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient := store.NewRedisClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	s := store.NewCachedStore(store.NewPostgresStore(pool), redisClient)

	var bus *events.Bus
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		publisher := events.NewPublisher(brokers)
		bus = events.NewBus(publisher, logger)
		defer func() { _ = bus.Close() }()
		logger.Info("lifecycle event export enabled", slog.String("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("lifecycle event export disabled (no kafka_brokers configured)")
	}

	reg := registry.New(s, logger)
	pollCfg := queue.DefaultPollConfig
	if cfg.WorkerPollInterval > 0 {
		pollCfg.MinInterval = cfg.WorkerPollInterval
		if pollCfg.MaxInterval < pollCfg.MinInterval {
			pollCfg.MaxInterval = pollCfg.MinInterval
		}
	}
	q := queue.New(s, logger, pollCfg)

	execRegistry := executor.NewRegistry(
		&executor.InternalExecutor{},
		&executor.OrchestratorExecutor{
			Command: cfg.OrchestratorCommand,
			Checker: storeCancellationChecker{s},
			Logger:  logger,
		},
	)

	// runCtx outlives individual HTTP requests; worker loops and the
	// sweeper are booted under it so they keep running independently of
	// whichever request happened to start them.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	manager := workerpool.New(s, q, reg, execRegistry, bus, logger, workerpool.Config{
		BackendType: "internal",
		Capabilities: domain.Capabilities{
			MaxParallelTasks:  1,
			SupportedProblems: nil,
		},
		HeartbeatTimeout: cfg.WorkerHeartbeatTimeout,
		PollConfig:       pollCfg,
	})
	manager.Start(runCtx)
	if cfg.AutoStartWorkers {
		if err := manager.SetCount(cfg.NumInternalWorkers); err != nil {
			return fmt.Errorf("start internal workers: %w", err)
		}
	}

	var sw *sweeper.Sweeper
	if cfg.EnableBackgroundTasks {
		sw = sweeper.New(s, redisClient, bus, cfg.TimeoutCheckInterval, cfg.WorkerHeartbeatTimeout, logger)
		go func() {
			if err := sw.Start(runCtx, cfg.TimeoutCheckInterval); err != nil {
				logger.Error("sweeper stopped", slog.String("error", err.Error()))
			}
		}()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:    s,
		Queue:    q,
		Registry: reg,
		Manager:  manager,
		Events:   bus,
		Defaults: httpapi.Defaults{
			MaxSteps:       cfg.DefaultMaxSteps,
			TimeoutMinutes: cfg.DefaultTimeoutMinutes,
			Priority:       cfg.DefaultPriority,
			AgentModel:     cfg.AgentModel,
		},
		Logger:      logger,
		Version:     versionString(),
		RootContext: runCtx,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info("taskrunnerd HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()
	manager.Stop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
