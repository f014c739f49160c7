// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/config"
)

const resetTimeout = 10 * time.Second

// resetConfig holds configuration for the reset command.
type resetConfig struct {
	yes bool
}

// NewResetCmd creates the reset subcommand.
func NewResetCmd() *cobra.Command {
	cfg := &resetConfig{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted sign-in state",
		Long: `Delete the persisted state from the configured engine. The next start
of the gateway begins signed out. A running gateway is not affected
until it restarts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.yes, "yes", false, "skip the confirmation prompt")

	return cmd
}

// runReset executes the reset command.
func runReset(cmd *cobra.Command, cfg *resetConfig) error {
	conf, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !cfg.yes {
		ok, err := confirmReset(cmd, conf.Persist.Engine)
		if err != nil {
			return err
		}
		if !ok {
			cmd.Println("Aborted")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), resetTimeout)
	defer cancel()

	engine, err := newEngine(ctx, conf)
	if err != nil {
		return fmt.Errorf("failed to open state engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	persistor, err := buildPersistor(authstate.NewStore(), engine, conf, nil)
	if err != nil {
		return err
	}

	if err := persistor.Reset(ctx); err != nil {
		return err
	}

	cmd.Printf("Persisted state removed from the %s engine\n", engine.Name())
	return nil
}

// confirmReset asks for confirmation on stdin. Anything other than "y" or
// "yes" aborts.
func confirmReset(cmd *cobra.Command, engine string) (bool, error) {
	cmd.Printf("Delete persisted state from the %s engine? [y/N] ", engine)

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
