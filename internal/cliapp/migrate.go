package cliapp

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aiopslab/taskrunner/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Connect to PostgreSQL and apply schema migrations.

Reads the DSN from --database-url flag, DATABASE_URL env var, or config file.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("database-url", "", "Postgres connection string")
	bindFlag("database_url", migrateCmd.Flags(), "database-url")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := viper.GetString("database_url")
	// serve binds the same viper key to its own --database-url flag, so
	// this command's flag is read directly when it was given.
	if f := cmd.Flags().Lookup("database-url"); f != nil && f.Changed {
		dsn = f.Value.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Println("migrations complete")
	return nil
}
