// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package web serves the application shell: a public login page, the
// guarded dashboard, and the JSON endpoints driving them.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/login"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/upstream"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Handlers owns the HTTP endpoints of the shell. Every endpoint reads and
// mutates state exclusively through the store and the login service.
type Handlers struct {
	store   *authstate.Store
	service *login.Service
	logger  *slog.Logger
	tmpl    *template.Template
}

// NewHandlers creates the handler set and parses the embedded templates.
func NewHandlers(store *authstate.Store, service *login.Service) (*Handlers, error) {
	return NewHandlersWithLogger(store, service, slog.Default())
}

// NewHandlersWithLogger creates the handler set with an explicit logger.
func NewHandlersWithLogger(store *authstate.Store, service *login.Service, logger *slog.Logger) (*Handlers, error) {
	if store == nil {
		return nil, oops.Errorf("state store is required")
	}
	if service == nil {
		return nil, oops.Errorf("login service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, oops.Code("WEB_TEMPLATE_PARSE").Wrap(err)
	}

	return &Handlers{
		store:   store,
		service: service,
		logger:  logger,
		tmpl:    tmpl,
	}, nil
}

// stateResponse is the JSON shape of the authentication state returned to
// API callers.
type stateResponse struct {
	IsAuthenticated bool            `json:"is_authenticated"`
	Loading         bool            `json:"loading"`
	User            json.RawMessage `json:"user,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func stateResponseFrom(s authstate.State) stateResponse {
	return stateResponse{
		IsAuthenticated: s.IsAuthenticated,
		Loading:         s.Loading,
		User:            s.User,
		Error:           s.Error,
	}
}

// credentialsRequest is the sign-in request body, shared by the JSON and
// form paths.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginView is the login page template data.
type loginView struct {
	Error   string
	Loading bool
}

// dashboardView is the dashboard template data.
type dashboardView struct {
	UserJSON string
}

// LoginPage renders the sign-in form. A visitor who is already
// authenticated is sent to the dashboard instead.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	if h.store.Authenticated() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	snap := h.store.Snapshot()
	h.renderPage(w, r, "login.html.tmpl", loginView{
		Error:   snap.Error,
		Loading: snap.Loading,
	})
}

// LoginSubmit runs one sign-in attempt from a form post or a JSON body.
// JSON callers get the outcome directly; form posts follow
// Post/Redirect/Get, with the next page reading the outcome from the
// store.
func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		errutil.LogWarn(h.logger, "malformed sign-in request", err)
		if wantsJSON(r) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"message": "malformed credentials"})
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	signInErr := h.service.SignIn(r.Context(), upstream.Credentials{
		Email:    creds.Email,
		Password: creds.Password,
	})

	if wantsJSON(r) {
		h.writeSignInOutcome(w, r, signInErr)
		return
	}

	if signInErr != nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// writeSignInOutcome maps the sign-in result onto the JSON response:
// 200 with the state on success, 401 with the upstream message on
// rejection, 502 when the upstream could not be reached.
func (h *Handlers) writeSignInOutcome(w http.ResponseWriter, r *http.Request, signInErr error) {
	if signInErr == nil {
		render.JSON(w, r, stateResponseFrom(h.store.Snapshot()))
		return
	}

	var rejection *upstream.SignInError
	if errors.As(signInErr, &rejection) {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"message": rejection.Message})
		return
	}

	render.Status(r, http.StatusBadGateway)
	render.JSON(w, r, map[string]string{"message": login.UnavailableMessage})
}

// Dashboard renders the signed-in landing page. The guard keeps
// unauthenticated visitors out before this handler runs.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	view := dashboardView{}
	if len(snap.User) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, snap.User, "", "  "); err != nil {
			view.UserJSON = string(snap.User)
		} else {
			view.UserJSON = pretty.String()
		}
	}

	h.renderPage(w, r, "dashboard.html.tmpl", view)
}

// ClearError discards the retained sign-in error. JSON callers get 204;
// form posts are sent back to the login page.
func (h *Handlers) ClearError(w http.ResponseWriter, r *http.Request) {
	h.store.ClearError()

	if wantsJSON(r) {
		render.NoContent(w, r)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// State returns the current authentication state as JSON. Guarded like
// every other non-public route.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, stateResponseFrom(h.store.Snapshot()))
}

// renderPage executes a template into a buffer first so a render failure
// becomes a clean 500 instead of a half-written page.
func (h *Handlers) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		observability.RecordRenderFailure(name)
		errutil.LogError(h.logger, "page render failed",
			oops.Code("WEB_RENDER_FAILED").With("template", name).Wrap(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		observability.RecordRenderFailure(name)
		h.logger.DebugContext(r.Context(), "page write failed", "template", name, "error", err)
	}
}

// decodeCredentials reads credentials from a JSON body or a form post,
// keyed on the request content type.
func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var creds credentialsRequest

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := render.DecodeJSON(r.Body, &creds); err != nil {
			return creds, oops.Code("WEB_BAD_REQUEST").Wrap(err)
		}
		return creds, nil
	}

	if err := r.ParseForm(); err != nil {
		return creds, oops.Code("WEB_BAD_REQUEST").Wrap(err)
	}
	creds.Email = r.PostFormValue("email")
	creds.Password = r.PostFormValue("password")
	return creds, nil
}

// wantsJSON reports whether the client asked for a JSON answer, either
// explicitly via Accept or implicitly by posting JSON.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
