// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/pkg/errutil"
)

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, err := NewTokenIssuer(nil, time.Hour)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	_, err = NewTokenIssuer([]byte("secret"), 0)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	accountID := ulid.Make()
	token, err := issuer.Issue(accountID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, accountID, got)
}

func TestTokenIssuer_VerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret-a"), time.Hour)
	require.NoError(t, err)
	other, err := NewTokenIssuer([]byte("secret-b"), time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue(ulid.Make())
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidToken)
}

func TestTokenIssuer_VerifyRejectsExpiredToken(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Millisecond)
	require.NoError(t, err)

	token, err := issuer.Issue(ulid.Make())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidToken)
}

func TestTokenIssuer_VerifyRejectsMalformedToken(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	for _, token := range []string{"", "not.a.token", "garbage"} {
		_, err := issuer.Verify(token)
		require.Error(t, err, "token %q should be rejected", token)
		errutil.AssertErrorCode(t, err, CodeInvalidToken)
	}
}

func TestTokenIssuer_VerifyRejectsUnsignedAlgorithm(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   ulid.Make().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidToken)
}

func TestTokenIssuer_VerifyRejectsNonULIDSubject(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	signed := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := signed.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidToken)
}

func TestTokenIssuer_VerifyRequiresExpiry(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: ulid.Make().String(),
	})
	token, err := noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidToken)
}
