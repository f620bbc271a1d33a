// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by AccountRepository when an atomic update lost a
// race (stale version) or a create collided on a unique email.
var ErrConflict = errors.New("conflict")

// Stable error codes for every flow failure the engine can surface. The
// HTTP layer maps these to status codes; callers should treat them as the
// error contract rather than matching on messages.
const (
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeEmailInUse         = "AUTH_EMAIL_IN_USE"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidCode        = "AUTH_CODE_INVALID"
	CodeFederationRejected = "AUTH_FEDERATION_REJECTED"
	CodeInvalidToken       = "AUTH_TOKEN_INVALID"
	CodeRepoUnavailable    = "REPO_UNAVAILABLE"
)

// ErrorCode extracts the stable code from an engine error, or "" if the
// error carries none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var o oops.OopsError
	if errors.As(err, &o) {
		if code, ok := o.Code().(string); ok {
			return code
		}
	}
	return ""
}
