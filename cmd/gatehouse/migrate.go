// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/persist/postgres"
)

// NewMigrateCmd creates the migrate subcommand tree.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres engine schema",
		Long: `Run schema migrations for the postgres state engine. The other engines
manage their own schema and do not need this command.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Long:  `Roll back all migrations. This drops the state table and any persisted snapshot with it.`,
		RunE:  runMigrateDown,
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE:  runMigrateStatus,
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long:  `Set the recorded schema version without running migrations. Only for recovering a dirty schema after fixing the database by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateForce,
	}
}

// openMigrator loads configuration and connects a migrator to the
// configured postgres URL.
func openMigrator(cmd *cobra.Command) (*postgres.Migrator, error) {
	conf, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if conf.Persist.Postgres.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("persist.postgres.url is required (set GATEHOUSE_PERSIST_POSTGRES_URL)")
	}

	cmd.Println("Connecting to database...")
	m, err := postgres.NewMigrator(conf.Persist.Postgres.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	return m, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Rolling back migrations...")
	if err := m.Down(); err != nil {
		return err
	}

	cmd.Println("Rollback completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("Schema version: none (fresh database)")
	} else if name, nameErr := postgres.MigrationName(version); nameErr == nil && name != "" {
		cmd.Printf("Schema version: %d (%s)\n", version, name)
	} else {
		cmd.Printf("Schema version: %d\n", version)
	}
	if dirty {
		cmd.Println("Schema is dirty: a migration failed part way; fix the database and run migrate force")
	}

	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("Pending migrations: none")
		return nil
	}

	cmd.Printf("Pending migrations: %d\n", len(pending))
	for _, v := range pending {
		name, nameErr := postgres.MigrationName(v)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("  %06d %s\n", v, name)
	}
	return nil
}

// parseForceVersion parses the version argument for migrate force.
// Only whole numbers are accepted; anything else is a user error.
func parseForceVersion(arg string) (int, error) {
	version, err := strconv.Atoi(arg)
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").Errorf("version must be a number, got %q", arg)
	}
	return version, nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}

	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Printf("Forcing schema version to %d...\n", version)
	if err := m.Force(version); err != nil {
		return err
	}

	cmd.Println("Schema version set")
	return nil
}
