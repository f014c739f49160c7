// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/persist"
)

var _ = Describe("Route guard", func() {
	BeforeEach(func() {
		env.resetState()
	})

	It("redirects an anonymous visit to the login page", func() {
		resp, err := noRedirectClient().Get(env.shell.URL + "/")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()

		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		Expect(resp.Header.Get("Location")).To(Equal("/login"))
	})

	It("serves the login page without authentication", func() {
		resp, err := http.Get(env.shell.URL + "/login")
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readBody(resp)).To(ContainSubstring("<h1>Sign in</h1>"))
	})

	It("serves static assets without authentication", func() {
		resp, err := http.Get(env.shell.URL + "/static/style.css")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("lets a signed-in visitor through to the dashboard", func() {
		env.store.Rehydrate(json.RawMessage(testProfile), true)

		resp, err := http.Get(env.shell.URL + "/")
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readBody(resp)).To(ContainSubstring("<h1>Signed in</h1>"))
	})

	It("sends a signed-in visitor from the login page to the dashboard", func() {
		env.store.Rehydrate(json.RawMessage(testProfile), true)

		resp, err := noRedirectClient().Get(env.shell.URL + "/login")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()

		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		Expect(resp.Header.Get("Location")).To(Equal("/"))
	})
})

var _ = Describe("Sign-in flow", func() {
	BeforeEach(func() {
		env.resetState()
	})

	It("lands on the dashboard after a successful form sign-in", func() {
		resp, err := http.PostForm(env.shell.URL+"/login", url.Values{
			"email":    {testEmail},
			"password": {testPassword},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body := readBody(resp)
		Expect(body).To(ContainSubstring("<h1>Signed in</h1>"))
		Expect(body).To(ContainSubstring(testEmail))

		Expect(env.store.Authenticated()).To(BeTrue())
	})

	It("returns to the login page with the upstream message on rejection", func() {
		resp, err := http.PostForm(env.shell.URL+"/login", url.Values{
			"email":    {testEmail},
			"password": {"wrong"},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body := readBody(resp)
		Expect(body).To(ContainSubstring("<h1>Sign in</h1>"))
		Expect(body).To(ContainSubstring("Invalid Credentials"))

		Expect(env.store.Authenticated()).To(BeFalse())
	})

	It("drops the retained error once it is dismissed", func() {
		env.store.Fail("Invalid Credentials")

		resp, err := http.Post(env.shell.URL+"/error/clear", "application/x-www-form-urlencoded", nil)
		Expect(err).NotTo(HaveOccurred())
		body := readBody(resp)

		Expect(body).To(ContainSubstring("<h1>Sign in</h1>"))
		Expect(body).NotTo(ContainSubstring("Invalid Credentials"))
	})

	It("persists the signed-in state through the engine", func() {
		resp, err := http.PostForm(env.shell.URL+"/login", url.Values{
			"email":    {testEmail},
			"password": {testPassword},
		})
		Expect(err).NotTo(HaveOccurred())
		_ = readBody(resp)

		env.persistor.Flush(env.ctx)

		raw, err := env.engine.Load(env.ctx, persist.DefaultKey)
		Expect(err).NotTo(HaveOccurred())
		snap, err := persist.DecodeSnapshot(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.State.IsAuthenticated).To(BeTrue())
		Expect(string(snap.State.User)).To(ContainSubstring(testEmail))
	})
})

var _ = Describe("JSON API", func() {
	BeforeEach(func() {
		env.resetState()
	})

	It("answers a JSON sign-in with the resulting state", func() {
		resp, err := http.Post(env.shell.URL+"/login", "application/json",
			strings.NewReader(`{"email":"user@example.com","password":"secret"}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var state struct {
			IsAuthenticated bool            `json:"is_authenticated"`
			User            json.RawMessage `json:"user"`
		}
		Expect(json.Unmarshal([]byte(readBody(resp)), &state)).To(Succeed())
		Expect(state.IsAuthenticated).To(BeTrue())
		Expect(string(state.User)).To(ContainSubstring(testEmail))
	})

	It("answers a rejected JSON sign-in with the upstream message", func() {
		resp, err := http.Post(env.shell.URL+"/login", "application/json",
			strings.NewReader(`{"email":"user@example.com","password":"wrong"}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		var body map[string]string
		Expect(json.Unmarshal([]byte(readBody(resp)), &body)).To(Succeed())
		Expect(body["message"]).To(Equal("Invalid Credentials"))
	})

	It("serves the state endpoint to signed-in callers", func() {
		env.store.Rehydrate(json.RawMessage(testProfile), true)

		req, err := http.NewRequest(http.MethodGet, env.shell.URL+"/state", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Accept", "application/json")

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readBody(resp)).To(ContainSubstring(`"is_authenticated":true`))
	})
})

var _ = Describe("Rehydration", func() {
	BeforeEach(func() {
		env.resetState()
	})

	It("restores the signed-in state a fresh process would see", func() {
		env.store.Succeed(json.RawMessage(testProfile))
		env.persistor.Flush(env.ctx)

		// Build a second store and persistor over the same engine, the way
		// a restarted gateway would.
		fresh := authstate.NewStore()
		p2, err := persist.New(persist.Options{
			Store:      fresh,
			Engine:     env.engine,
			AppVersion: "test",
		})
		Expect(err).NotTo(HaveOccurred())

		p2.Rehydrate(env.ctx)

		Expect(fresh.Authenticated()).To(BeTrue())
		snap := fresh.Snapshot()
		Expect(string(snap.User)).To(ContainSubstring(testEmail))
		Expect(snap.Loading).To(BeFalse())
		Expect(snap.Error).To(BeEmpty())
	})

	It("starts signed out after a reset", func() {
		env.store.Succeed(json.RawMessage(testProfile))
		env.persistor.Flush(env.ctx)
		Expect(env.persistor.Reset(env.ctx)).To(Succeed())

		fresh := authstate.NewStore()
		p2, err := persist.New(persist.Options{
			Store:      fresh,
			Engine:     env.engine,
			AppVersion: "test",
		})
		Expect(err).NotTo(HaveOccurred())

		p2.Rehydrate(env.ctx)

		Expect(fresh.Authenticated()).To(BeFalse())
	})
})
