// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
)

// NewValidateConfigCmd creates the validate-config subcommand.
func NewValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config [file]",
		Short: "Validate a config file without starting the gateway",
		Long: `Validates a config file against the schema and the semantic checks.
Does NOT start the gateway or touch the state engine.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch config errors early:
  gatehouse validate-config config.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(cmd, args)
		},
	}
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	path := configFile
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		path = config.DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return oops.Code("CONFIG_FILE_NOT_FOUND").With("path", path).Wrap(err)
	}

	if err := config.ValidateSchema(data); err != nil {
		slog.Error("schema validation failed", "path", path, "detail", config.FormatSchemaError(err))
		return oops.Code("CONFIG_INVALID").With("path", path).Errorf("%s", config.FormatSchemaError(err))
	}

	// Load applies environment and defaults on top of the file and runs the
	// semantic checks, so the result reflects what serve would actually use.
	if _, err := config.Load(path, nil); err != nil {
		return err
	}

	cmd.Printf("%s is valid\n", path)
	slog.Info("configuration valid", "path", path)
	return nil
}
