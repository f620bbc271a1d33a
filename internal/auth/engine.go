// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Conditional updates retry a few times when they lose a version race;
// each attempt re-reads the account, so the mutation is applied to fresh
// state and two concurrent failures can never under-count.
const (
	atomicRetries = 3
	atomicBackoff = 10 * time.Millisecond
)

// dummyPasswordHash is used when an account doesn't exist to prevent timing
// attacks. We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// EngineParams bundles the collaborators and policy configuration for
// NewEngine. Everything except Resolver and Logger is required.
type EngineParams struct {
	Accounts AccountRepository
	Hasher   PasswordHasher
	Tokens   *TokenIssuer
	Sender   CodeSender

	// Resolver is optional; when nil, federated login is disabled and
	// fails with AUTH_FEDERATION_REJECTED.
	Resolver FederationResolver

	Codes     CodeGenerator
	Lockout   LockoutPolicy
	Passwords PasswordPolicy

	// EmailPattern is the compiled email-format pattern from configuration.
	EmailPattern *regexp.Regexp

	// VerificationRequired gates the email-verification flow: when true,
	// registration issues a code and login is refused while one is
	// outstanding.
	VerificationRequired bool

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Engine orchestrates the authentication flows and owns their ordering
// invariants. Registering an email that already exists with its correct
// password is treated as an implicit login rather than an error.
type Engine struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	sender   CodeSender
	resolver FederationResolver

	codes        CodeGenerator
	lockout      LockoutPolicy
	passwords    PasswordPolicy
	emailPattern *regexp.Regexp
	verification bool
	logger       *slog.Logger
}

// NewEngine creates an Engine, validating its dependencies.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if p.Hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if p.Tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if p.Sender == nil {
		return nil, oops.Errorf("code sender is required")
	}
	if p.EmailPattern == nil {
		return nil, oops.Errorf("email pattern is required")
	}
	if p.Codes.TTL <= 0 {
		return nil, oops.Errorf("code TTL must be positive")
	}
	if err := p.Lockout.Validate(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		accounts:     p.Accounts,
		hasher:       p.Hasher,
		tokens:       p.Tokens,
		sender:       p.Sender,
		resolver:     p.Resolver,
		codes:        p.Codes,
		lockout:      p.Lockout,
		passwords:    p.Passwords,
		emailPattern: p.EmailPattern,
		verification: p.VerificationRequired,
		logger:       logger,
	}, nil
}

// Register validates the email and password, creates the account, and, when
// verification is required, issues and dispatches a verification code,
// leaving the account unverified (empty token, nil error).
//
// If the email is already taken: the correct password turns the call into
// an implicit login; a wrong password fails with AUTH_EMAIL_IN_USE.
func (e *Engine) Register(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", oops.Code(CodeInvalidInput).Errorf("email and password are required")
	}
	if err := ValidateEmail(e.emailPattern, email); err != nil {
		return "", err
	}
	if err := e.passwords.Validate(password); err != nil {
		return "", err
	}

	existing, err := e.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		ok, verr := e.hasher.Verify(password, existing.PasswordHash)
		if verr == nil && ok {
			// Idempotent re-registration: proceed as a login.
			return e.Login(ctx, email, password)
		}
		return "", oops.Code(CodeEmailInUse).Errorf("email already in use")
	case errors.Is(err, ErrNotFound):
		// fresh registration
	default:
		return "", e.repoFailure("find account", err)
	}

	hash, err := e.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	account, err := NewAccount(email, hash)
	if err != nil {
		return "", err
	}

	if err := e.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a create race; same outcome as the exists branch above.
			return "", oops.Code(CodeEmailInUse).Errorf("email already in use")
		}
		return "", e.repoFailure("create account", err)
	}

	if e.verification {
		// The account is already persisted: a delivery failure here is
		// surfaced, but a later passwordless request can re-issue the code.
		if err := e.issueCode(ctx, email); err != nil {
			return "", err
		}
		return "", nil
	}

	return e.tokens.Issue(account.ID)
}

// Login authenticates an account by password and issues a token.
//
// Check order is load-bearing: outstanding-verification precedes lockout,
// which precedes password verification. Unknown email and wrong password
// share one indistinguishable failure to avoid account enumeration.
func (e *Engine) Login(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", oops.Code(CodeInvalidInput).Errorf("email and password are required")
	}

	account, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a verification anyway so response time doesn't reveal
			// whether the email exists.
			_, _ = e.hasher.Verify(password, dummyPasswordHash)
			return "", e.invalidCredentials()
		}
		return "", e.repoFailure("find account", err)
	}

	if e.verification && account.HasOutstandingCode() {
		return "", oops.Code(CodeEmailNotVerified).Errorf("email not verified")
	}

	if account.IsLocked() {
		return "", oops.Code(CodeAccountLocked).
			With("locked_until", account.LockedUntil).
			Errorf("account is temporarily locked, try again later")
	}

	ok, err := e.hasher.Verify(password, account.PasswordHash)
	if err != nil || !ok {
		if rerr := e.recordFailure(ctx, email); rerr != nil {
			e.logger.Warn("failed to record login failure", "email", email, "error", rerr)
		}
		return "", e.invalidCredentials()
	}

	updated, err := e.recordSuccess(ctx, email, password)
	if err != nil {
		return "", err
	}

	e.logger.Info("login succeeded", "account_id", updated.ID.String())
	return e.tokens.Issue(updated.ID)
}

// PasswordlessLoginOrRegister starts the passwordless flow: it gets or
// creates the account (the create path has no password) and always issues
// and dispatches a fresh verification code. The returned flag only drives
// new-account vs existing messaging; the flow succeeds either way so
// callers cannot probe for account existence.
func (e *Engine) PasswordlessLoginOrRegister(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, oops.Code(CodeInvalidInput).Errorf("email is required")
	}
	if err := ValidateEmail(e.emailPattern, email); err != nil {
		return false, err
	}

	created := false
	_, err := e.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		account, aerr := NewAccount(email, "")
		if aerr != nil {
			return false, aerr
		}
		if cerr := e.accounts.Create(ctx, account); cerr != nil && !errors.Is(cerr, ErrConflict) {
			return false, e.repoFailure("create account", cerr)
		}
		created = true
	case err != nil:
		return false, e.repoFailure("find account", err)
	}

	if err := e.issueCode(ctx, email); err != nil {
		return false, err
	}
	return created, nil
}

// VerifyCodeAndGenerateToken consumes an outstanding verification code and
// issues a token. Absent account, mismatched code, and expired code all
// fail identically. The code is cleared in the same conditional update that
// admits it, so of two concurrent attempts only one can win.
func (e *Engine) VerifyCodeAndGenerateToken(ctx context.Context, email, code string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || code == "" {
		return "", oops.Code(CodeInvalidInput).Errorf("email and code are required")
	}

	var account *Account
	backoff := retry.WithMaxRetries(atomicRetries, retry.NewConstant(atomicBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := e.accounts.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return e.invalidCode()
			}
			return e.repoFailure("find account", err)
		}
		if !CodeMatches(found.VerificationCode, code, found.CodeExpiresAt, time.Now()) {
			return e.invalidCode()
		}

		account = found
		_, err = e.accounts.AtomicUpdate(ctx, email, found.Version, func(a *Account) {
			a.ClearCode()
		})
		if errors.Is(err, ErrConflict) {
			// Someone else touched the account; re-check whether the code
			// is still outstanding before trying again.
			return retry.RetryableError(err)
		}
		if err != nil {
			return e.repoFailure("consume verification code", err)
		}
		return nil
	})
	if err != nil {
		return "", e.unwrapRetry(err)
	}

	return e.tokens.Issue(account.ID)
}

// FederatedLogin resolves an external provider assertion and issues a token
// for the mapped account, creating it on first sight. Provider trust
// substitutes for local policy: neither lockout nor verification state is
// consulted, and no code is ever issued for a provider-verified email.
func (e *Engine) FederatedLogin(ctx context.Context, providerToken, provider string) (string, error) {
	if e.resolver == nil {
		return "", oops.Code(CodeFederationRejected).Errorf("federated login is not configured")
	}

	identity, err := e.resolver.Resolve(ctx, providerToken, provider)
	if err != nil {
		return "", err
	}

	email := NormalizeEmail(identity.Email)
	account, err := e.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		account, err = NewAccount(email, "")
		if err != nil {
			return "", err
		}
		account.Name = identity.Name
		account.Provider = identity.Provider
		if cerr := e.accounts.Create(ctx, account); cerr != nil {
			if !errors.Is(cerr, ErrConflict) {
				return "", e.repoFailure("create account", cerr)
			}
			// Concurrent first login for the same identity: reuse the row
			// the other request created.
			account, err = e.accounts.FindByEmail(ctx, email)
			if err != nil {
				return "", e.repoFailure("find account", err)
			}
		}
	case err != nil:
		return "", e.repoFailure("find account", err)
	default:
		e.backfillIdentity(ctx, account, identity)
	}

	return e.tokens.Issue(account.ID)
}

// backfillIdentity fills in name/provider on accounts that predate the
// federated link. Best effort: a conflict or outage never blocks the login.
func (e *Engine) backfillIdentity(ctx context.Context, account *Account, identity Identity) {
	if account.Provider != "" && (account.Name != "" || identity.Name == "") {
		return
	}
	_, err := e.accounts.AtomicUpdate(ctx, account.Email, account.Version, func(a *Account) {
		if a.Name == "" {
			a.Name = identity.Name
		}
		if a.Provider == "" {
			a.Provider = identity.Provider
		}
		a.UpdatedAt = time.Now()
	})
	if err != nil {
		e.logger.Debug("identity backfill skipped", "email", account.Email, "error", err)
	}
}

// issueCode generates a verification code, persists it, and dispatches it.
// The code is stored before delivery is attempted, so a delivery failure
// leaves a re-issuable code behind.
func (e *Engine) issueCode(ctx context.Context, email string) error {
	code, expiresAt, err := e.codes.Generate()
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(atomicRetries, retry.NewConstant(atomicBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := e.accounts.FindByEmail(ctx, email)
		if err != nil {
			return e.repoFailure("find account", err)
		}
		_, err = e.accounts.AtomicUpdate(ctx, email, found.Version, func(a *Account) {
			a.SetCode(code, expiresAt)
		})
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return e.repoFailure("store verification code", err)
		}
		return nil
	})
	if err != nil {
		return e.unwrapRetry(err)
	}

	if err := e.sender.SendCode(ctx, email, code); err != nil {
		return oops.Code(CodeRepoUnavailable).
			With("operation", "send verification code").
			Wrap(err)
	}
	return nil
}

// recordFailure applies the lockout policy after a failed password check as
// a conditional update, re-reading the counter on every attempt.
func (e *Engine) recordFailure(ctx context.Context, email string) error {
	backoff := retry.WithMaxRetries(atomicRetries, retry.NewConstant(atomicBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := e.accounts.FindByEmail(ctx, email)
		if err != nil {
			return e.repoFailure("find account", err)
		}
		count, until := e.lockout.OnFailure(found.FailedAttempts)
		_, err = e.accounts.AtomicUpdate(ctx, email, found.Version, func(a *Account) {
			a.FailedAttempts = count
			a.LockedUntil = until
			a.UpdatedAt = time.Now()
		})
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return e.repoFailure("record login failure", err)
		}
		return nil
	})
	return e.unwrapRetry(err)
}

// recordSuccess resets the failure counter and lockout, upgrading a legacy
// password hash along the way when needed.
func (e *Engine) recordSuccess(ctx context.Context, email, password string) (*Account, error) {
	var newHash string
	var updated *Account
	backoff := retry.WithMaxRetries(atomicRetries, retry.NewConstant(atomicBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := e.accounts.FindByEmail(ctx, email)
		if err != nil {
			return e.repoFailure("find account", err)
		}

		if e.hasher.NeedsUpgrade(found.PasswordHash) && newHash == "" {
			if h, herr := e.hasher.Hash(password); herr == nil {
				newHash = h
			}
		}

		count, until := e.lockout.OnSuccess()
		if found.FailedAttempts == count && found.LockedUntil == nil && newHash == "" {
			updated = found
			return nil
		}

		updated, err = e.accounts.AtomicUpdate(ctx, email, found.Version, func(a *Account) {
			a.FailedAttempts = count
			a.LockedUntil = until
			if newHash != "" {
				a.PasswordHash = newHash
			}
			a.UpdatedAt = time.Now()
		})
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return e.repoFailure("record login success", err)
		}
		return nil
	})
	if err != nil {
		return nil, e.unwrapRetry(err)
	}
	return updated, nil
}

func (e *Engine) invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func (e *Engine) invalidCode() error {
	return oops.Code(CodeInvalidCode).Errorf("invalid or expired code")
}

func (e *Engine) repoFailure(operation string, err error) error {
	return oops.Code(CodeRepoUnavailable).
		With("operation", operation).
		Wrap(err)
}

// unwrapRetry surfaces an exhausted-retries conflict as a repository
// failure; every other error passes through with its own code.
func (e *Engine) unwrapRetry(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) && ErrorCode(err) == "" {
		return e.repoFailure("conditional update", err)
	}
	return err
}
