// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatehouse/gatehouse/internal/persist"
	"github.com/gatehouse/gatehouse/internal/persist/postgres"
)

// setupPostgresContainer starts a PostgreSQL container, applies
// migrations, and returns a ready engine plus the connection string.
func setupPostgresContainer() (*postgres.Engine, string, func(), error) {
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("gatehouse_test"),
		pgcontainer.WithUsername("gatehouse"),
		pgcontainer.WithPassword("gatehouse"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", nil, err
	}

	migrator, err := postgres.NewMigrator(connStr)
	if err != nil {
		return nil, "", nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, "", nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, "", nil, err
	}

	engine, err := postgres.New(ctx, connStr)
	if err != nil {
		return nil, "", nil, err
	}

	cleanup := func() {
		_ = engine.Close()
		_ = container.Terminate(ctx)
	}

	return engine, connStr, cleanup, nil
}

var _ = Describe("Engine", func() {
	var engine *postgres.Engine
	var connStr string
	var cleanup func()

	BeforeEach(func() {
		var err error
		engine, connStr, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Store and Load", func() {
		It("round-trips a snapshot", func() {
			ctx := context.Background()

			err := engine.Store(ctx, "gatehouse:root", []byte(`{"version":1}`))
			Expect(err).NotTo(HaveOccurred())

			value, err := engine.Load(ctx, "gatehouse:root")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal([]byte(`{"version":1}`)))
		})

		It("replaces an existing snapshot", func() {
			ctx := context.Background()

			Expect(engine.Store(ctx, "gatehouse:root", []byte(`first`))).To(Succeed())
			Expect(engine.Store(ctx, "gatehouse:root", []byte(`second`))).To(Succeed())

			value, err := engine.Load(ctx, "gatehouse:root")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal([]byte(`second`)))
		})

		It("reports a missing key as not found", func() {
			_, err := engine.Load(context.Background(), "never-stored")
			Expect(errors.Is(err, persist.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("removes a stored snapshot", func() {
			ctx := context.Background()

			Expect(engine.Store(ctx, "gatehouse:root", []byte(`{}`))).To(Succeed())
			Expect(engine.Delete(ctx, "gatehouse:root")).To(Succeed())

			_, err := engine.Load(ctx, "gatehouse:root")
			Expect(errors.Is(err, persist.ErrNotFound)).To(BeTrue())
		})

		It("tolerates deleting an absent key", func() {
			Expect(engine.Delete(context.Background(), "never-stored")).To(Succeed())
		})
	})

	Describe("Ping", func() {
		It("succeeds against a live database", func() {
			Expect(engine.Ping(context.Background())).To(Succeed())
		})
	})

	Describe("Migrator", func() {
		It("reports the applied schema version", func() {
			migrator, err := postgres.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(1)))
			Expect(dirty).To(BeFalse())
		})

		It("treats a second Up as a no-op", func() {
			migrator, err := postgres.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			Expect(migrator.Up()).To(Succeed())

			// Existing data survives the repeated migration.
			Expect(engine.Store(context.Background(), "gatehouse:root", []byte(`{}`))).To(Succeed())
		})
	})
})
