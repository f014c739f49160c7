// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package upstream wraps HTTP access to the identity service that verifies
// credentials. Every request carries the gateway's default headers and any
// cookies the upstream set on earlier responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/samber/oops"
)

const (
	instanceHeader = "X-Gatehouse-Instance"

	defaultSignInPath = "/users/signin"
	defaultTimeout    = 10 * time.Second
)

// Credentials identify a user to the upstream service.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Config holds the upstream connection settings.
type Config struct {
	// BaseURL is the upstream origin, e.g. "https://id.example.com".
	BaseURL string
	// SignInPath is the sign-in endpoint path. Defaults to "/users/signin".
	SignInPath string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// SignInError is a rejection reported by the upstream service. Message is
// taken from the response body so it can be shown to the user verbatim.
type SignInError struct {
	Status  int
	Message string
}

func (e *SignInError) Error() string {
	return fmt.Sprintf("upstream rejected sign-in (%d): %s", e.Status, e.Message)
}

// Client talks to the upstream identity service.
type Client struct {
	baseURL    string
	signInPath string
	userAgent  string
	instanceID string
	httpClient *http.Client
}

// New creates a Client for the given upstream. version and instanceID are
// stamped onto every request so the upstream can tell gateway instances apart.
// If httpClient is nil a client with a cookie jar and the configured timeout
// is used; the jar retains session cookies the upstream sets across requests.
func New(cfg Config, version, instanceID string, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, oops.Code("UPSTREAM_NO_BASE_URL").
			Errorf("upstream base URL is required")
	}
	if cfg.SignInPath == "" {
		cfg.SignInPath = defaultSignInPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, oops.Code("UPSTREAM_CLIENT_SETUP").Wrap(err)
		}
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		signInPath: cfg.SignInPath,
		userAgent:  "gatehouse/" + version,
		instanceID: instanceID,
		httpClient: httpClient,
	}, nil
}

// SignIn submits credentials to the upstream and returns the profile from a
// successful response verbatim. A rejection (any non-2xx status) is returned
// as a *SignInError carrying the message from the response body. SignIn never
// retries; each call is exactly one upstream request.
func (c *Client) SignIn(ctx context.Context, creds Credentials) (json.RawMessage, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return nil, oops.Code("UPSTREAM_ENCODE_FAILED").Wrap(err)
	}

	url := c.baseURL + c.signInPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, oops.Code("UPSTREAM_REQUEST_FAILED").
			With("url", url).
			Wrap(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(instanceHeader, c.instanceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, oops.Code("UPSTREAM_UNREACHABLE").
			With("url", url).
			Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oops.Code("UPSTREAM_READ_FAILED").
			With("url", url).
			With("status", resp.StatusCode).
			Wrap(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SignInError{
			Status:  resp.StatusCode,
			Message: rejectionMessage(resp.StatusCode, body),
		}
	}

	if !json.Valid(body) {
		return nil, oops.Code("UPSTREAM_BAD_RESPONSE").
			With("url", url).
			With("status", resp.StatusCode).
			Errorf("success response is not valid JSON")
	}

	return json.RawMessage(body), nil
}

// rejectionMessage extracts the message field from a failure body.
// Falls back to the HTTP status text when the body has no usable message.
func rejectionMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return http.StatusText(status)
}
