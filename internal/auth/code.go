// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// CodeBytes is the number of random bytes in a verification code.
// 3 bytes hex-encode to a 6-character code, short enough to type from an
// email while still drawn from a cryptographically strong source.
const CodeBytes = 3

// CodeGenerator produces short-lived one-time verification codes.
type CodeGenerator struct {
	// TTL is how long an issued code stays valid.
	TTL time.Duration
}

// Generate returns a fresh code and its expiry instant.
func (g CodeGenerator) Generate() (string, time.Time, error) {
	buf := make([]byte, CodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, oops.Code("CODE_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(buf), time.Now().Add(g.TTL), nil
}

// CodeMatches reports whether a presented code is acceptable: it must
// exactly equal the stored code AND the expiry must not have passed. Both
// checks are always performed; neither can bypass the other. The comparison
// is constant-time.
func CodeMatches(stored, presented string, expiresAt *time.Time, now time.Time) bool {
	if stored == "" || presented == "" {
		return false
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
	expired := expiresAt == nil || now.After(*expiresAt)
	return match && !expired
}
