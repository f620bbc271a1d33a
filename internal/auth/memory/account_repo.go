// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package memory provides an in-process AccountRepository for tests and
// single-node development. Updates are serialized per account, giving the
// same atomicity guarantees as the postgres implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/keygate/keygate/internal/auth"
)

// AccountRepository implements auth.AccountRepository with an in-memory map.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
}

// NewAccountRepository creates an empty in-memory repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[string]*auth.Account)}
}

// FindByEmail retrieves a copy of the stored account, or ErrNotFound.
func (r *AccountRepository) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	c := *account
	return &c, nil
}

// Create stores a new account; a duplicate email yields ErrConflict.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := auth.NormalizeEmail(account.Email)
	if _, ok := r.accounts[email]; ok {
		return oops.Code("ACCOUNT_EMAIL_TAKEN").
			With("email", email).
			Wrap(auth.ErrConflict)
	}
	c := *account
	r.accounts[email] = &c
	return nil
}

// AtomicUpdate applies mutate under the repository lock, guarded by the
// account's version. A stale expectedVersion yields ErrConflict.
func (r *AccountRepository) AtomicUpdate(_ context.Context, email string, expectedVersion int64, mutate func(*auth.Account)) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = auth.NormalizeEmail(email)
	account, ok := r.accounts[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if account.Version != expectedVersion {
		return nil, oops.Code("ACCOUNT_VERSION_STALE").
			With("email", email).
			With("expected", expectedVersion).
			With("actual", account.Version).
			Wrap(auth.ErrConflict)
	}

	mutate(account)
	account.Version++
	account.UpdatedAt = time.Now()

	c := *account
	return &c, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
