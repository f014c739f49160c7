// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package login orchestrates the sign-in flow between the state store and
// the upstream identity service.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/upstream"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

var tracer = otel.Tracer("gatehouse/login")

// UnavailableMessage is stored in the state when the upstream could not be
// reached at all. Upstream rejections carry their own message; transport
// errors must not leak internals to the user.
const UnavailableMessage = "sign-in service is unavailable"

// Authenticator verifies credentials against the upstream service.
// This interface allows mocking the upstream client in tests.
type Authenticator interface {
	SignIn(ctx context.Context, creds upstream.Credentials) (json.RawMessage, error)
}

// Service drives sign-in attempts through the state store.
type Service struct {
	store   *authstate.Store
	client  Authenticator
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates a Service. metrics may be nil.
func NewService(store *authstate.Store, client Authenticator, metrics *observability.Metrics) (*Service, error) {
	return NewServiceWithLogger(store, client, metrics, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(store *authstate.Store, client Authenticator, metrics *observability.Metrics, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("state store is required")
	}
	if client == nil {
		return nil, oops.Errorf("upstream client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		client:  client,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// SignIn runs one sign-in attempt. The store always observes the full
// transition: loading first, then either the authenticated state or the
// failure message. Concurrent attempts are not deduplicated; each call
// produces its own upstream request and its own transitions.
func (s *Service) SignIn(ctx context.Context, creds upstream.Credentials) error {
	ctx, span := tracer.Start(ctx, "login.sign_in")
	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.store.Begin()

	var profile json.RawMessage
	profile, err = s.client.SignIn(ctx, creds)
	if err != nil {
		var rejection *upstream.SignInError
		if errors.As(err, &rejection) {
			span.SetAttributes(
				attribute.String("login.outcome", "rejected"),
				attribute.Int("upstream.status", rejection.Status),
			)
			s.store.Fail(rejection.Message)
			s.recordOutcome("rejected")
			s.logger.InfoContext(ctx, "sign-in rejected", "status", rejection.Status)
		} else {
			span.SetAttributes(attribute.String("login.outcome", "error"))
			s.store.Fail(UnavailableMessage)
			s.recordOutcome("error")
			errutil.LogError(s.logger, "sign-in request failed", err)
		}
		return err
	}

	span.SetAttributes(attribute.String("login.outcome", "success"))
	s.store.Succeed(profile)
	s.recordOutcome("success")
	s.logger.InfoContext(ctx, "sign-in succeeded")
	return nil
}

func (s *Service) recordOutcome(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SignInsTotal.WithLabelValues(outcome).Inc()
}
