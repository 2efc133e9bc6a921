// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/patronly/patronly/internal/store"
)

var _ = Describe("Migrator and OpenPool", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("patronly_test"),
			postgres.WithUsername("patronly"),
			postgres.WithPassword("patronly"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.OpenPool(ctx, store.PoolConfig{URL: connStr, ConnectRetries: 3}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("runs the full up/down cycle", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Pending).To(HaveLen(2))

		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "second Up is a no-op")
	})

	It("enforces case-insensitive email uniqueness", func() {
		_, err := pool.Exec(ctx, `INSERT INTO accounts (email, password_digest) VALUES ('Dup@example.com', 'x')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `INSERT INTO accounts (email, password_digest) VALUES ('dup@EXAMPLE.com', 'y')`)
		Expect(err).To(HaveOccurred())
	})

	It("cascades session deletion from accounts", func() {
		var id int64
		Expect(pool.QueryRow(ctx,
			`INSERT INTO accounts (email, password_digest) VALUES ('cascade@example.com', 'x') RETURNING id`,
		).Scan(&id)).To(Succeed())

		_, err := pool.Exec(ctx,
			`INSERT INTO sessions (id, account_id, token_hash, expires_at) VALUES ('01J0000000000000000000000A', $1, 'h', NOW())`, id)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE account_id = $1`, id).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})
})
