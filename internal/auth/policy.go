// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"regexp"

	"github.com/samber/oops"
)

// Character-class patterns for password rules.
var (
	digitRegex   = regexp.MustCompile(`\d`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	specialRegex = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// PasswordPolicy holds the configurable password-strength rules. Each rule
// is independently toggleable; MinLength always applies.
type PasswordPolicy struct {
	MinLength      int
	RequireDigit   bool
	RequireUpper   bool
	RequireLower   bool
	RequireSpecial bool
}

// Validate checks a candidate password against the policy. The error names
// the first rule that failed.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return oops.Code(CodeWeakPassword).
			With("min_length", p.MinLength).
			Errorf("password must be at least %d characters long", p.MinLength)
	}
	if p.RequireDigit && !digitRegex.MatchString(password) {
		return oops.Code(CodeWeakPassword).Errorf("password must contain at least one number")
	}
	if p.RequireUpper && !upperRegex.MatchString(password) {
		return oops.Code(CodeWeakPassword).Errorf("password must contain at least one uppercase letter")
	}
	if p.RequireLower && !lowerRegex.MatchString(password) {
		return oops.Code(CodeWeakPassword).Errorf("password must contain at least one lowercase letter")
	}
	if p.RequireSpecial && !specialRegex.MatchString(password) {
		return oops.Code(CodeWeakPassword).Errorf("password must contain at least one special character")
	}
	return nil
}

// ValidateEmail checks an address against the configured format pattern.
// The pattern is compiled once at startup from configuration.
func ValidateEmail(pattern *regexp.Regexp, email string) error {
	if email == "" {
		return oops.Code(CodeInvalidInput).Errorf("email is required")
	}
	if !pattern.MatchString(email) {
		return oops.Code(CodeInvalidInput).Errorf("invalid email format")
	}
	return nil
}
