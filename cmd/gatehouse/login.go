// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/instance"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/login"
	"github.com/gatehouse/gatehouse/internal/persist"
	"github.com/gatehouse/gatehouse/internal/upstream"
)

// Default timeout for the login command.
const defaultLoginTimeout = 30 * time.Second

// loginConfig holds configuration for the login command.
type loginConfig struct {
	email   string
	timeout time.Duration
}

// NewLoginCmd creates the login subcommand.
func NewLoginCmd() *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in from the terminal",
		Long: `Verify credentials against the upstream identity service and persist
the resulting state, exactly as the web flow does. The password is read
from stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.email, "email", "", "account email (prompted when omitted)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultLoginTimeout, "timeout for the sign-in attempt (e.g. 30s, 1m)")

	def := config.Default()
	cmd.Flags().String("upstream-url", def.Upstream.URL, "upstream identity service base URL")
	cmd.Flags().String("log-format", def.Log.Format, "log format (json or text)")
	cmd.Flags().String("persist-engine", def.Persist.Engine, "state engine (file, sqlite, redis, postgres)")

	return cmd
}

func runLogin(cmd *cobra.Command, cfg *loginConfig) error {
	conf, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := conf.ValidateUpstream(); err != nil {
		return err
	}

	logging.SetDefault(serviceName, version, conf.Log.Format)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	email, password, err := readCredentials(cmd, cfg.email)
	if err != nil {
		return err
	}

	instanceID, err := instance.ID("")
	if err != nil {
		return err
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:    conf.Upstream.URL,
		SignInPath: conf.Upstream.Signin,
		Timeout:    conf.Upstream.Timeout,
	}, version, instanceID, nil)
	if err != nil {
		return err
	}

	engine, err := newEngine(ctx, conf)
	if err != nil {
		return fmt.Errorf("failed to open state engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := persist.WaitReady(ctx, engine); err != nil {
		return fmt.Errorf("state engine not reachable: %w", err)
	}

	store := authstate.NewStore()
	persistor, err := buildPersistor(store, engine, conf, nil)
	if err != nil {
		return err
	}

	svc, err := login.NewService(store, client, nil)
	if err != nil {
		return err
	}

	cmd.Println("Signing in...")
	signInErr := svc.SignIn(ctx, upstream.Credentials{Email: email, Password: password})

	// The outcome is persisted either way; the web flow would have done
	// the same through its watch loop.
	persistor.Flush(ctx)

	if signInErr != nil {
		var rejection *upstream.SignInError
		if errors.As(signInErr, &rejection) {
			return oops.Code("SIGNIN_REJECTED").
				With("status", rejection.Status).
				Errorf("%s", rejection.Message)
		}
		return oops.Code("SIGNIN_FAILED").Wrap(signInErr)
	}

	cmd.Printf("Signed in; state persisted to the %s engine\n", engine.Name())
	return nil
}

// readCredentials collects the email (flag or prompt) and the password
// (always prompted, never a flag, so it stays out of shell history).
func readCredentials(cmd *cobra.Command, email string) (string, string, error) {
	reader := bufio.NewReader(cmd.InOrStdin())

	if email == "" {
		cmd.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", oops.Code("SIGNIN_INPUT_FAILED").Wrap(err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return "", "", oops.Code("SIGNIN_INPUT_FAILED").Errorf("email is required")
	}

	cmd.Print("Password: ")
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", "", oops.Code("SIGNIN_INPUT_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", "", oops.Code("SIGNIN_INPUT_FAILED").Errorf("password is required")
	}

	return email, password, nil
}
