// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package postgres implements auth.AccountRepository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keygate/keygate/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it, so unit tests run without a database.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
// Atomicity of AtomicUpdate rests on a version column: the UPDATE is
// guarded by the version read, so a lost race affects zero rows.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, email, password_hash, name, provider,
	       failed_attempts, locked_until, verification_code, code_expires_at,
	       version, created_at, updated_at`

// FindByEmail retrieves an account by normalized email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, auth.NormalizeEmail(email))

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// Create stores a new account. A unique-violation on the email column is
// reported as ErrConflict so the engine can treat it as email-in-use.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, name, provider,
			failed_attempts, locked_until, verification_code, code_expires_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID.String(),
		auth.NormalizeEmail(account.Email),
		account.PasswordHash,
		account.Name,
		account.Provider,
		account.FailedAttempts,
		account.LockedUntil,
		account.VerificationCode,
		account.CodeExpiresAt,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", account.Email).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("email", account.Email).
			Wrap(err)
	}
	return nil
}

// AtomicUpdate re-reads the account, applies mutate, and writes it back
// guarded by the expected version. Zero rows affected with the row still
// present means a stale version: ErrConflict.
func (r *AccountRepository) AtomicUpdate(ctx context.Context, email string, expectedVersion int64, mutate func(*auth.Account)) (*auth.Account, error) {
	email = auth.NormalizeEmail(email)

	account, err := r.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account.Version != expectedVersion {
		return nil, r.staleVersion(email, expectedVersion, account.Version)
	}

	mutate(account)
	account.Version = expectedVersion + 1
	account.UpdatedAt = time.Now()

	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			password_hash = $3,
			name = $4,
			provider = $5,
			failed_attempts = $6,
			locked_until = $7,
			verification_code = $8,
			code_expires_at = $9,
			version = $10,
			updated_at = $11
		WHERE email = $1 AND version = $2
	`,
		email,
		expectedVersion,
		account.PasswordHash,
		account.Name,
		account.Provider,
		account.FailedAttempts,
		account.LockedUntil,
		account.VerificationCode,
		account.CodeExpiresAt,
		account.Version,
		account.UpdatedAt,
	)
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "conditional update").
			With("email", email).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return nil, r.staleVersion(email, expectedVersion, -1)
	}
	return account, nil
}

func (r *AccountRepository) staleVersion(email string, expected, actual int64) error {
	b := oops.Code("ACCOUNT_VERSION_STALE").
		With("email", email).
		With("expected", expected)
	if actual >= 0 {
		b = b.With("actual", actual)
	}
	return b.Wrap(auth.ErrConflict)
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr            string
		email            string
		passwordHash     string
		name             string
		provider         string
		failedAttempts   int
		lockedUntil      *time.Time
		verificationCode string
		codeExpiresAt    *time.Time
		version          int64
		createdAt        time.Time
		updatedAt        time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&name,
		&provider,
		&failedAttempts,
		&lockedUntil,
		&verificationCode,
		&codeExpiresAt,
		&version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:               id,
		Email:            email,
		PasswordHash:     passwordHash,
		Name:             name,
		Provider:         provider,
		FailedAttempts:   failedAttempts,
		LockedUntil:      lockedUntil,
		VerificationCode: verificationCode,
		CodeExpiresAt:    codeExpiresAt,
		Version:          version,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
