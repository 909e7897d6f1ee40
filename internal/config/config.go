// Package config loads typed configuration from a *viper.Viper
// populated from CLI flags, environment variables, and a YAML file, in
// that order of precedence, matching the teacher's services/*/config.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the taskrunnerd service.
type Config struct {
	LogLevel string

	DatabaseURL            string
	NumInternalWorkers     int
	AutoStartWorkers       bool
	EnableBackgroundTasks  bool
	DefaultTimeoutMinutes  float64
	DefaultMaxSteps        int
	DefaultPriority        int
	TimeoutCheckInterval   time.Duration
	WorkerPollInterval     time.Duration
	WorkerHeartbeatTimeout time.Duration

	RedisAddr           string
	KafkaBrokers        string
	MetricsAddr         string
	OTelEndpoint        string
	OrchestratorCommand string

	HTTPPort string

	AgentModel string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel: v.GetString("log_level"),

		DatabaseURL:            v.GetString("database_url"),
		NumInternalWorkers:     v.GetInt("num_internal_workers"),
		AutoStartWorkers:       v.GetBool("auto_start_workers"),
		EnableBackgroundTasks:  v.GetBool("enable_background_tasks"),
		DefaultTimeoutMinutes:  v.GetFloat64("default_timeout_minutes"),
		DefaultMaxSteps:        v.GetInt("default_max_steps"),
		DefaultPriority:        v.GetInt("default_priority"),
		TimeoutCheckInterval:   v.GetDuration("timeout_check_interval"),
		WorkerPollInterval:     v.GetDuration("worker_poll_interval"),
		WorkerHeartbeatTimeout: v.GetDuration("worker_heartbeat_timeout"),

		RedisAddr:           v.GetString("redis_addr"),
		KafkaBrokers:        v.GetString("kafka_brokers"),
		MetricsAddr:         v.GetString("metrics_addr"),
		OTelEndpoint:        v.GetString("otel_endpoint"),
		OrchestratorCommand: v.GetString("orchestrator_command"),

		HTTPPort: v.GetString("http_port"),

		AgentModel: resolveAgentModel(v),
	}
}

// resolveAgentModel implements spec.md's agent_config.model fallback
// chain: OPENROUTER_MODEL → OPENAI_MODEL → DEFAULT_AGENT_MODEL → "gpt-4".
func resolveAgentModel(v *viper.Viper) string {
	for _, key := range []string{"openrouter_model", "openai_model", "default_agent_model"} {
		if m := v.GetString(key); m != "" {
			return m
		}
	}
	return "gpt-4"
}
