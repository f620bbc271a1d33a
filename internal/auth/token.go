// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenIssuer signs and verifies time-bounded bearer tokens carrying an
// account identifier. The signing key is process-wide configuration loaded
// once at startup; rotation is out of scope.
type TokenIssuer struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenIssuer creates a TokenIssuer. The secret must be non-empty and
// the lifetime positive.
func NewTokenIssuer(secret []byte, lifetime time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("token signing secret is required")
	}
	if lifetime <= 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("token lifetime must be positive, got %s", lifetime)
	}
	return &TokenIssuer{secret: secret, lifetime: lifetime}, nil
}

// Issue returns a signed HS256 token whose subject is the account ID and
// whose expiry is now plus the configured lifetime.
func (i *TokenIssuer) Issue(accountID ulid.ULID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the account ID it was
// issued for. Bad signatures, expired tokens, and malformed input all fail
// with the AUTH_TOKEN_INVALID code.
func (i *TokenIssuer) Verify(tokenString string) (ulid.ULID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidToken).Wrap(err)
	}
	if !token.Valid {
		return ulid.ULID{}, oops.Code(CodeInvalidToken).Errorf("invalid token")
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidToken).
			With("subject", claims.Subject).
			Wrap(err)
	}
	return id, nil
}
