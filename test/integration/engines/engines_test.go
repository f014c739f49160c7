// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package engines_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/persist"
	pgengine "github.com/gatehouse/gatehouse/internal/persist/postgres"
	redisengine "github.com/gatehouse/gatehouse/internal/persist/redis"
)

var _ = Describe("Postgres engine", func() {
	var eng *pgengine.Engine

	BeforeEach(func() {
		var err error
		eng, err = pgengine.New(env.ctx, env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(persist.WaitReady(env.ctx, eng)).To(Succeed())
	})

	AfterEach(func() {
		_ = eng.Close()
	})

	It("reports a healthy schema after migrate up", func() {
		m, err := pgengine.NewMigrator(env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(BeNumerically(">", 0))

		name, err := pgengine.MigrationName(version)
		Expect(err).NotTo(HaveOccurred())
		Expect(name).NotTo(BeEmpty())

		pending, err := m.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("round-trips a value", func() {
		key := "it:pg:roundtrip"
		value := []byte(`{"probe":true}`)

		Expect(eng.Store(env.ctx, key, value)).To(Succeed())

		got, err := eng.Load(env.ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(value))

		Expect(eng.Delete(env.ctx, key)).To(Succeed())
		_, err = eng.Load(env.ctx, key)
		Expect(err).To(MatchError(persist.ErrNotFound))
	})

	It("replaces the value on repeated store", func() {
		key := "it:pg:replace"

		Expect(eng.Store(env.ctx, key, []byte("first"))).To(Succeed())
		Expect(eng.Store(env.ctx, key, []byte("second"))).To(Succeed())

		got, err := eng.Load(env.ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("second"))

		Expect(eng.Delete(env.ctx, key)).To(Succeed())
	})

	It("treats deleting a missing key as a no-op", func() {
		Expect(eng.Delete(env.ctx, "it:pg:never-written")).To(Succeed())
	})

	It("shares state across engine instances", func() {
		key := "it:pg:shared"
		Expect(eng.Store(env.ctx, key, []byte("durable"))).To(Succeed())

		other, err := pgengine.New(env.ctx, env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = other.Close() }()

		got, err := other.Load(env.ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("durable"))

		Expect(eng.Delete(env.ctx, key)).To(Succeed())
	})

	It("fails with guidance when the schema is missing", func() {
		m, err := pgengine.NewMigrator(env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		Expect(m.Down()).To(Succeed())
		defer func() {
			Expect(m.Up()).To(Succeed())
		}()

		_, err = eng.Load(env.ctx, "it:pg:any")
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(persist.ErrNotFound))
	})
})

var _ = Describe("Redis engine", func() {
	var eng *redisengine.Engine

	BeforeEach(func() {
		eng = redisengine.New(redisengine.Config{Addr: env.redisAddr})
		Expect(persist.WaitReady(env.ctx, eng)).To(Succeed())
	})

	AfterEach(func() {
		_ = eng.Close()
	})

	It("round-trips a value", func() {
		key := "it:redis:roundtrip"
		value := []byte(`{"probe":true}`)

		Expect(eng.Store(env.ctx, key, value)).To(Succeed())

		got, err := eng.Load(env.ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(value))

		Expect(eng.Delete(env.ctx, key)).To(Succeed())
		_, err = eng.Load(env.ctx, key)
		Expect(err).To(MatchError(persist.ErrNotFound))
	})

	It("treats deleting a missing key as a no-op", func() {
		Expect(eng.Delete(env.ctx, "it:redis:never-written")).To(Succeed())
	})
})

var _ = Describe("Sealed snapshots on a real engine", func() {
	const key = "it:sealed"

	profile := json.RawMessage(`{"id":"u1","email":"user@example.com"}`)

	newPersistor := func(store *authstate.Store, eng persist.Engine, passphrase string) *persist.Persistor {
		sealed, err := persist.NewSealed(passphrase)
		Expect(err).NotTo(HaveOccurred())
		p, err := persist.New(persist.Options{
			Store:      store,
			Engine:     eng,
			Key:        key,
			AppVersion: "test",
			Transforms: []persist.Transform{sealed},
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("stores ciphertext and restores with the same passphrase", func() {
		eng, err := pgengine.New(env.ctx, env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = eng.Close() }()
		defer func() { _ = eng.Delete(env.ctx, key) }()

		store := authstate.NewStore()
		store.Succeed(profile)
		newPersistor(store, eng, "passphrase").Flush(env.ctx)

		// The raw engine value must not decode as a plain snapshot.
		raw, err := eng.Load(env.ctx, key)
		Expect(err).NotTo(HaveOccurred())
		_, err = persist.DecodeSnapshot(raw)
		Expect(err).To(HaveOccurred())

		fresh := authstate.NewStore()
		newPersistor(fresh, eng, "passphrase").Rehydrate(env.ctx)
		Expect(fresh.Authenticated()).To(BeTrue())
	})

	It("starts fresh when the passphrase does not match", func() {
		eng, err := pgengine.New(env.ctx, env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = eng.Close() }()
		defer func() { _ = eng.Delete(env.ctx, key) }()

		store := authstate.NewStore()
		store.Succeed(profile)
		newPersistor(store, eng, "passphrase").Flush(env.ctx)

		fresh := authstate.NewStore()
		newPersistor(fresh, eng, "wrong").Rehydrate(env.ctx)
		Expect(fresh.Authenticated()).To(BeFalse())
	})
})
