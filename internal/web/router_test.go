// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/login"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/upstream"
	"github.com/gatehouse/gatehouse/internal/web"
)

func newTestRouter(t *testing.T, store *authstate.Store, auth login.Authenticator, metrics *observability.Metrics) *chi.Mux {
	t.Helper()

	svc, err := login.NewService(store, auth, metrics)
	require.NoError(t, err)
	handlers, err := web.NewHandlers(store, svc)
	require.NoError(t, err)
	guard, err := web.NewGuard(store, []string{"/login", "/error/clear", "/static/*"}, "/login", metrics)
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return web.NewRouter(handlers, guard, metrics, quiet)
}

func TestRouter_UnauthenticatedIsRedirectedToLogin(t *testing.T) {
	store := authstate.NewStore()
	router := newTestRouter(t, store, &stubAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRouter_LoginPageIsPublic(t *testing.T) {
	store := authstate.NewStore()
	router := newTestRouter(t, store, &stubAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestRouter_StaticAssetsArePublic(t *testing.T) {
	store := authstate.NewStore()
	router := newTestRouter(t, store, &stubAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestRouter_AuthenticatedReachesDashboard(t *testing.T) {
	store := authstate.NewStore()
	store.Succeed(json.RawMessage(`{"id":"42","name":"Kim"}`))
	router := newTestRouter(t, store, &stubAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in")
}

func TestRouter_AssignsRequestIDs(t *testing.T) {
	store := authstate.NewStore()
	router := newTestRouter(t, store, &stubAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	id := rec.Header().Get(web.RequestIDHeader)
	require.NotEmpty(t, id)
	_, err := ulid.Parse(id)
	assert.NoError(t, err)
}

// TestRouter_FormLoginFlow walks the browser flow end to end: a rejected
// form post redirects back to the login page, which shows the retained
// error until it is cleared, and a successful post lands on the dashboard.
func TestRouter_FormLoginFlow(t *testing.T) {
	store := authstate.NewStore()
	auth := &stubAuthenticator{err: nil, profile: json.RawMessage(`{"id":"42"}`)}
	router := newTestRouter(t, store, auth, nil)

	postForm := func(path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	// Rejected attempt bounces back to the login page.
	auth.err = &upstream.SignInError{Status: 401, Message: "Invalid credentials"}
	rec := postForm("/login", url.Values{"email": {"kim@example.com"}, "password": {"wrong"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))

	rec = get("/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")

	// Dismissing the error clears the banner.
	rec = postForm("/error/clear", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = get("/login")
	assert.NotContains(t, rec.Body.String(), "Invalid credentials")

	// A successful attempt lands on the dashboard.
	auth.err = nil
	rec = postForm("/login", url.Values{"email": {"kim@example.com"}, "password": {"hunter2"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))

	rec = get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in")

	// The login page now redirects away.
	rec = get("/login")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestRouter_CountsRequests(t *testing.T) {
	store := authstate.NewStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := newTestRouter(t, store, &stubAuthenticator{}, metrics)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "302")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GuardDecisions.WithLabelValues("redirected")))
}
