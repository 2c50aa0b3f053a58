package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/infra/database"
	"github.com/arklim/session-gate/internal/infra/logger"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withMigrator := func(run func(*database.Migrator) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			log, err := logger.New(opts.cfg.App.Env)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			m, err := database.NewMigrator(opts.cfg.Postgres, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					log.Warn("close migrator", zap.Error(err))
				}
			}()
			return run(m)
		}
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(func(m *database.Migrator) error { return m.Up() }),
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(func(m *database.Migrator) error { return m.Down() }),
	}

	var steps int
	stepsCmd := &cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations (negative N rolls back)",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
			}
			steps = n
			return nil
		},
		RunE: withMigrator(func(m *database.Migrator) error { return m.Steps(steps) }),
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *database.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return err
			})(cmd, args)
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, stepsCmd, versionCmd)
	return migrateCmd
}
