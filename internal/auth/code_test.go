// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator_Generate(t *testing.T) {
	gen := CodeGenerator{TTL: 10 * time.Minute}

	code, expiresAt, err := gen.Generate()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{6}$`), code, "code should be 6 lowercase hex chars")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expiresAt, time.Second)
}

func TestCodeGenerator_CodesAreUnpredictable(t *testing.T) {
	gen := CodeGenerator{TTL: time.Minute}

	seen := make(map[string]bool)
	for range 50 {
		code, _, err := gen.Generate()
		require.NoError(t, err)
		seen[code] = true
	}
	// With 16.7M possible codes, 50 draws colliding down to a handful would
	// indicate a broken source.
	assert.Greater(t, len(seen), 45)
}

func TestCodeMatches(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		stored    string
		presented string
		expiresAt *time.Time
		want      bool
	}{
		{name: "correct code before expiry", stored: "a1b2c3", presented: "a1b2c3", expiresAt: &future, want: true},
		{name: "wrong code", stored: "a1b2c3", presented: "d4e5f6", expiresAt: &future, want: false},
		{name: "correct code after expiry", stored: "a1b2c3", presented: "a1b2c3", expiresAt: &past, want: false},
		{name: "wrong code after expiry", stored: "a1b2c3", presented: "d4e5f6", expiresAt: &past, want: false},
		{name: "nil expiry never matches", stored: "a1b2c3", presented: "a1b2c3", expiresAt: nil, want: false},
		{name: "no stored code", stored: "", presented: "a1b2c3", expiresAt: &future, want: false},
		{name: "empty presented code", stored: "a1b2c3", presented: "", expiresAt: &future, want: false},
		{name: "both empty", stored: "", presented: "", expiresAt: &future, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CodeMatches(tt.stored, tt.presented, tt.expiresAt, time.Now())
			assert.Equal(t, tt.want, got)
		})
	}
}
