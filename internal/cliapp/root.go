// Package cliapp wires the cobra command tree for the taskrunnerd
// binary, grounded on the teacher's services/*/cli packages.
package cliapp

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "taskrunnerd",
	Short:        "taskrunnerd — AIOpsLab task dispatch engine",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/taskrunnerd/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: taskrunnerd.yaml in ., ~/.taskrunner or /etc/taskrunner)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("taskrunnerd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.taskrunner")
		viper.AddConfigPath("/etc/taskrunner")
	}

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

// bindEnvVars explicitly binds every environment variable spec.md §6
// names, since viper.AutomaticEnv alone only covers keys already
// referenced elsewhere (e.g. via a flag or a prior Get call).
func bindEnvVars() {
	pairs := map[string]string{
		"database_url":             "DATABASE_URL",
		"num_internal_workers":     "NUM_INTERNAL_WORKERS",
		"auto_start_workers":       "AUTO_START_WORKERS",
		"enable_background_tasks":  "ENABLE_BACKGROUND_TASKS",
		"default_timeout_minutes":  "DEFAULT_TIMEOUT_MINUTES",
		"default_max_steps":        "DEFAULT_MAX_STEPS",
		"default_priority":         "DEFAULT_PRIORITY",
		"timeout_check_interval":   "TIMEOUT_CHECK_INTERVAL",
		"worker_poll_interval":     "WORKER_POLL_INTERVAL",
		"worker_heartbeat_timeout": "WORKER_HEARTBEAT_TIMEOUT",
		"redis_addr":               "REDIS_ADDR",
		"kafka_brokers":            "KAFKA_BROKERS",
		"metrics_addr":             "METRICS_ADDR",
		"otel_endpoint":            "OTEL_ENDPOINT",
		"orchestrator_command":     "ORCHESTRATOR_COMMAND",
		"openrouter_model":         "OPENROUTER_MODEL",
		"openai_model":             "OPENAI_MODEL",
		"default_agent_model":      "DEFAULT_AGENT_MODEL",
		"http_port":                "HTTP_PORT",
	}
	for key, env := range pairs {
		_ = viper.BindEnv(key, env)
	}
}

func buildLogger(level, service string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q -> %q: %v", flagName, viperKey, err))
	}
}
