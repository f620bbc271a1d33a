// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account represents an identity record keyed by email.
//
// PasswordHash is empty for accounts created through the passwordless or
// federated flows until a password is set. VerificationCode is empty when no
// one-time code is outstanding; CodeExpiresAt must always be checked
// together with it. Version guards optimistic-concurrency updates and is
// bumped by the repository on every successful write.
type Account struct {
	ID               ulid.ULID
	Email            string
	PasswordHash     string
	Name             string
	Provider         string
	FailedAttempts   int
	LockedUntil      *time.Time
	VerificationCode string
	CodeExpiresAt    *time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NormalizeEmail lowercases and trims an email address. All repository
// lookups and writes use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewAccount creates an Account with a fresh ULID and normalized email.
// The password hash may be empty for passwordless and federated accounts.
func NewAccount(email, passwordHash string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code(CodeInvalidInput).Errorf("email cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true while a lockout is in effect.
func (a *Account) IsLocked() bool {
	return IsLockedOut(a.LockedUntil)
}

// HasOutstandingCode returns true if a verification code has been issued
// and not yet consumed. Expiry is deliberately not considered here: an
// unconsumed expired code still marks the account as unverified.
func (a *Account) HasOutstandingCode() bool {
	return a.VerificationCode != ""
}

// ClearCode removes the outstanding verification code and its expiry.
func (a *Account) ClearCode() {
	a.VerificationCode = ""
	a.CodeExpiresAt = nil
	a.UpdatedAt = time.Now()
}

// SetCode stores a freshly issued verification code.
func (a *Account) SetCode(code string, expiresAt time.Time) {
	a.VerificationCode = code
	a.CodeExpiresAt = &expiresAt
	a.UpdatedAt = time.Now()
}

// AccountRepository manages account persistence.
//
// All lookups key on the normalized email. AtomicUpdate must apply the
// mutation as a single conditional write guarded by expectedVersion so that
// concurrent flows against the same account cannot lose updates; it returns
// ErrConflict (wrapped) when the guard fails.
type AccountRepository interface {
	// FindByEmail retrieves an account, or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create stores a new account. A duplicate email yields ErrConflict.
	Create(ctx context.Context, account *Account) error

	// AtomicUpdate re-reads the account, applies mutate, and persists it
	// only if the stored version still equals expectedVersion. Returns the
	// updated account, ErrNotFound, or ErrConflict on a stale version.
	AtomicUpdate(ctx context.Context, email string, expectedVersion int64, mutate func(*Account)) (*Account, error)
}

// CodeSender delivers a verification code to an email address. Delivery
// failure is surfaced as a hard failure of the issuing flow; the code stays
// persisted so a later request can re-issue.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}
