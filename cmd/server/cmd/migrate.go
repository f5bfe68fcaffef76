package cmd

import (
	"fmt"
	"strconv"

	"github.com/eventboard/server/internal/storage/postgres"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"
)

type migrateOptions struct {
	path  string
	steps int
}

func newMigrateCommand(global *globalOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the account and token ledger schema.

Examples:
  # Apply every pending migration
  server migrate up

  # Roll back the most recent migration
  server migrate down --steps 1

  # Show the applied version
  server migrate version

  # Create the job queue tables used by the expiry sweep
  server migrate river`,
	}
	cmd.PersistentFlags().StringVar(&opts.path, "path", postgres.DefaultMigrationsPath, "migrations directory")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if err := postgres.MigrateUp(cfg.Database.URL, opts.path); err != nil {
				return err
			}
			return printVersion(cmd, cfg.Database.URL, opts.path)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if err := postgres.MigrateDown(cfg.Database.URL, opts.path, opts.steps); err != nil {
				return err
			}
			return printVersion(cmd, cfg.Database.URL, opts.path)
		},
	}
	down.Flags().IntVar(&opts.steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return printVersion(cmd, cfg.Database.URL, opts.path)
		},
	}

	riverCmd := &cobra.Command{
		Use:   "river",
		Short: "Apply the job queue migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			pool, err := openPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
			if err != nil {
				return fmt.Errorf("river migrator: %w", err)
			}
			res, err := migrator.Migrate(cmd.Context(), rivermigrate.DirectionUp, nil)
			if err != nil {
				return fmt.Errorf("river migrate: %w", err)
			}
			if len(res.Versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "river: no change")
				return nil
			}
			for _, v := range res.Versions {
				fmt.Fprintf(cmd.OutOrStdout(), "river: applied version %d (%s)\n", v.Version, v.Duration)
			}
			return nil
		},
	}

	cmd.AddCommand(up, down, version, riverCmd)
	return cmd
}

func printVersion(cmd *cobra.Command, databaseURL, path string) error {
	version, dirty, err := postgres.MigrationVersion(databaseURL, path)
	if err != nil {
		return err
	}
	line := "schema version " + strconv.FormatUint(uint64(version), 10)
	if dirty {
		line += " (dirty)"
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}
