package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/db"
	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/observability"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Apply the embedded schema migrations to the configured PostgreSQL database.`,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back every migration instead")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (set UXA_DATABASE_URL or DATABASE_URL)")
	}
	logger, err := observability.NewLogger(cfg.Logging.Log())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	database, err := db.Connect(context.Background(), cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if migrateDown {
		if err := database.MigrateDown(); err != nil {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		logger.Info("migrations rolled back")
		return nil
	}
	return migrateStore(database, logger)
}

// migrateStore applies migrations when store is backed by Postgres.
func migrateStore(store jobstore.Store, logger *zap.Logger) error {
	database, ok := store.(*db.DB)
	if !ok {
		return nil
	}
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	names, err := db.MigrationNames()
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Strings("migrations", names))
	return nil
}
