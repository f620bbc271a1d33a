// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// LockoutPolicy decides when repeated failed password checks lock an
// account. Threshold and Duration are configuration, never hard-coded.
type LockoutPolicy struct {
	// Threshold is the consecutive-failure count that triggers a lockout.
	Threshold int

	// Duration is how long a triggered lockout lasts.
	Duration time.Duration
}

// Validate rejects policies that could never lock or would lock instantly.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout threshold must be at least 1, got %d", p.Threshold)
	}
	if p.Duration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout duration must be positive, got %s", p.Duration)
	}
	return nil
}

// OnFailure returns the new failure count and lockout expiry after one more
// failed attempt. Reaching the threshold locks the account and resets the
// counter to zero, so the next failure after the lockout elapses starts a
// fresh window.
func (p LockoutPolicy) OnFailure(currentCount int) (int, *time.Time) {
	next := currentCount + 1
	if next >= p.Threshold {
		until := time.Now().Add(p.Duration)
		return 0, &until
	}
	return next, nil
}

// OnSuccess returns the values to persist after a successful verification:
// a zero counter and no lockout.
func (p LockoutPolicy) OnSuccess() (int, *time.Time) {
	return 0, nil
}

// IsLockedOut returns true if the lockout time is set and in the future.
func IsLockedOut(lockedUntil *time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(time.Now())
}
