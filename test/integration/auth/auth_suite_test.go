// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

//go:build integration

// Package auth_test exercises the authentication engine end to end against
// a real PostgreSQL instance.
package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keygate/keygate/internal/store"
)

func TestAuthIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Engine Integration Suite")
}

var (
	pgContainer testcontainers.Container
	pgConnStr   string
	pool        *pgxpool.Pool
)

var _ = BeforeSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("keygate_test"),
		postgres.WithUsername("keygate"),
		postgres.WithPassword("keygate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	pgContainer = container

	pgConnStr, err = container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(pgConnStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	pool, err = store.Connect(ctx, pgConnStr)
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pool != nil {
		pool.Close()
	}
	if pgContainer != nil {
		Expect(pgContainer.Terminate(ctx)).To(Succeed())
	}
})

// recordingSender captures issued verification codes per email address.
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{codes: make(map[string]string)}
}

func (s *recordingSender) SendCode(_ context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.codes[email] = code
	return nil
}

func (s *recordingSender) codeFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}
