// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/pkg/errutil"
)

func TestLockoutPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  LockoutPolicy
		wantErr bool
	}{
		{name: "valid", policy: LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}},
		{name: "threshold of one", policy: LockoutPolicy{Threshold: 1, Duration: time.Minute}},
		{name: "zero threshold", policy: LockoutPolicy{Threshold: 0, Duration: time.Minute}, wantErr: true},
		{name: "zero duration", policy: LockoutPolicy{Threshold: 5, Duration: 0}, wantErr: true},
		{name: "negative duration", policy: LockoutPolicy{Threshold: 5, Duration: -time.Minute}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLockoutPolicy_OnFailure_BelowThreshold(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

	count, until := policy.OnFailure(0)
	assert.Equal(t, 1, count)
	assert.Nil(t, until)

	count, until = policy.OnFailure(3)
	assert.Equal(t, 4, count)
	assert.Nil(t, until)
}

func TestLockoutPolicy_OnFailure_TriggersLockoutAndResetsCounter(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

	count, until := policy.OnFailure(4)
	assert.Equal(t, 0, count, "counter resets when lockout triggers")
	require.NotNil(t, until)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *until, time.Second)
}

func TestLockoutPolicy_CounterResetMeansFreshWindowAfterLockout(t *testing.T) {
	policy := LockoutPolicy{Threshold: 3, Duration: time.Minute}

	// Third failure locks and zeroes the counter.
	count, until := policy.OnFailure(2)
	require.NotNil(t, until)
	require.Equal(t, 0, count)

	// After the lockout elapses, the next failure starts from zero and does
	// not immediately re-lock.
	count, until = policy.OnFailure(count)
	assert.Equal(t, 1, count)
	assert.Nil(t, until)
}

func TestLockoutPolicy_OnSuccess(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

	count, until := policy.OnSuccess()
	assert.Equal(t, 0, count)
	assert.Nil(t, until)
}

func TestIsLockedOut(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	assert.True(t, IsLockedOut(&future))
	assert.False(t, IsLockedOut(&past), "expired lockout no longer locks")
	assert.False(t, IsLockedOut(nil))
}
