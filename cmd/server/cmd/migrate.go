package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/catalog/internal/config"
	"github.com/Togather-Foundation/catalog/internal/jobs"
	"github.com/Togather-Foundation/catalog/internal/storage/postgres"
)

var (
	migrationsPath   string
	migrateSteps     int
	migrateSkipRiver bool
	migrateRiverDown bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back the catalog schema and River's job tables.

Migrations are embedded in the binary; --path points at a directory of
*.sql files instead.

Examples:
  server migrate up
  server migrate down --steps 1
  server migrate version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
			return err
		}
		logger.Info().Msg("catalog schema up to date")

		if migrateSkipRiver {
			return nil
		}
		if err := migrateRiver(cmd.Context(), cfg, true); err != nil {
			return err
		}
		logger.Info().Msg("river schema up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back catalog migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, migrateSteps); err != nil {
			return err
		}
		logger.Info().Int("steps", migrateSteps).Msg("rolled back catalog migrations")

		if migrateRiverDown {
			if err := migrateRiver(cmd.Context(), cfg, false); err != nil {
				return err
			}
			logger.Info().Msg("removed river schema")
		}
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		version, dirty, err := postgres.MigrationVersion(cfg.Database.URL, migrationsPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty:   %t\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "directory of migration files (default: embedded)")
	migrateUpCmd.Flags().BoolVar(&migrateSkipRiver, "skip-river", false, "do not migrate River's job tables")
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateDownCmd.Flags().BoolVar(&migrateRiverDown, "river", false, "also remove River's job tables")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func migrateRiver(ctx context.Context, cfg config.Config, up bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	return jobs.MigrateRiver(ctx, pool, up)
}
