// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/pkg/errutil"
)

func googleTokenInfoServer(t *testing.T, status int, info map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.URL.Query().Get("id_token"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(info))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func validTokenInfo(clientID string) map[string]string {
	return map[string]string{
		"aud":            clientID,
		"email":          "user@example.com",
		"email_verified": "true",
		"name":           "Ada Lovelace",
		"exp":            strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}
}

func TestGoogleVerifier_Verify(t *testing.T) {
	t.Parallel()

	const clientID = "keygate-client"

	t.Run("valid token yields identity", func(t *testing.T) {
		t.Parallel()

		srv := googleTokenInfoServer(t, http.StatusOK, validTokenInfo(clientID))
		v := NewGoogleVerifier(clientID, srv.Client())
		v.endpoint = srv.URL

		identity, err := v.Verify(context.Background(), "opaque-token")
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{
			Provider: auth.ProviderGoogle,
			Email:    "user@example.com",
			Name:     "Ada Lovelace",
		}, identity)
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		t.Parallel()

		v := NewGoogleVerifier(clientID, http.DefaultClient)

		_, err := v.Verify(context.Background(), "")
		errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
	})

	tests := []struct {
		name   string
		status int
		mutate func(info map[string]string)
	}{
		{
			name:   "endpoint rejects token",
			status: http.StatusBadRequest,
			mutate: func(info map[string]string) {},
		},
		{
			name:   "audience mismatch",
			status: http.StatusOK,
			mutate: func(info map[string]string) { info["aud"] = "another-client" },
		},
		{
			name:   "expired token",
			status: http.StatusOK,
			mutate: func(info map[string]string) {
				info["exp"] = strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
			},
		},
		{
			name:   "malformed expiry",
			status: http.StatusOK,
			mutate: func(info map[string]string) { info["exp"] = "soon" },
		},
		{
			name:   "unverified email",
			status: http.StatusOK,
			mutate: func(info map[string]string) { info["email_verified"] = "false" },
		},
		{
			name:   "missing email",
			status: http.StatusOK,
			mutate: func(info map[string]string) { info["email"] = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := validTokenInfo(clientID)
			tt.mutate(info)

			srv := googleTokenInfoServer(t, tt.status, info)
			v := NewGoogleVerifier(clientID, srv.Client())
			v.endpoint = srv.URL

			_, err := v.Verify(context.Background(), "opaque-token")
			errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
		})
	}
}

func unsignedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	return token
}

func appleTokenServer(t *testing.T, idToken string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		body := map[string]string{
			"access_token": "unused",
			"token_type":   "bearer",
		}
		if idToken != "" {
			body["id_token"] = idToken
		}
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestAppleExchanger_Exchange(t *testing.T) {
	t.Parallel()

	const clientID = "com.example.keygate"

	validClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"aud":   clientID,
			"exp":   float64(time.Now().Add(time.Hour).Unix()),
			"email": "user@example.com",
			"name":  "Ada Lovelace",
		}
	}

	newExchanger := func(t *testing.T, srv *httptest.Server) *AppleExchanger {
		t.Helper()

		a := NewAppleExchanger(clientID, "secret", srv.Client())
		a.conf.Endpoint.TokenURL = srv.URL

		return a
	}

	t.Run("valid code yields identity", func(t *testing.T) {
		t.Parallel()

		srv := appleTokenServer(t, unsignedIDToken(t, validClaims()))
		a := newExchanger(t, srv)

		identity, err := a.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{
			Provider: auth.ProviderApple,
			Email:    "user@example.com",
			Name:     "Ada Lovelace",
		}, identity)
	})

	t.Run("empty code is rejected", func(t *testing.T) {
		t.Parallel()

		a := NewAppleExchanger(clientID, "secret", http.DefaultClient)

		_, err := a.Exchange(context.Background(), "")
		errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
	})

	t.Run("exchange failure is rejected", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		t.Cleanup(srv.Close)
		a := newExchanger(t, srv)

		_, err := a.Exchange(context.Background(), "auth-code")
		errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
	})

	t.Run("response without id_token is rejected", func(t *testing.T) {
		t.Parallel()

		srv := appleTokenServer(t, "")
		a := newExchanger(t, srv)

		_, err := a.Exchange(context.Background(), "auth-code")
		errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
	})

	tests := []struct {
		name   string
		mutate func(claims jwt.MapClaims)
	}{
		{
			name:   "audience mismatch",
			mutate: func(claims jwt.MapClaims) { claims["aud"] = "another-client" },
		},
		{
			name:   "expired token",
			mutate: func(claims jwt.MapClaims) { claims["exp"] = float64(time.Now().Add(-time.Minute).Unix()) },
		},
		{
			name:   "missing email",
			mutate: func(claims jwt.MapClaims) { delete(claims, "email") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := validClaims()
			tt.mutate(claims)

			srv := appleTokenServer(t, unsignedIDToken(t, claims))
			a := newExchanger(t, srv)

			_, err := a.Exchange(context.Background(), "auth-code")
			errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured providers are rejected", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(Config{})

		for _, provider := range []string{auth.ProviderGoogle, auth.ProviderApple, "github"} {
			_, err := r.Resolve(context.Background(), "token", provider)
			errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
		}
	})

	t.Run("google dispatch", func(t *testing.T) {
		t.Parallel()

		const clientID = "keygate-client"
		srv := googleTokenInfoServer(t, http.StatusOK, validTokenInfo(clientID))

		r := NewResolver(Config{GoogleClientID: clientID})
		r.google.client = srv.Client()
		r.google.endpoint = srv.URL

		identity, err := r.Resolve(context.Background(), "opaque-token", auth.ProviderGoogle)
		require.NoError(t, err)
		assert.Equal(t, auth.ProviderGoogle, identity.Provider)
		assert.Equal(t, "user@example.com", identity.Email)

		_, err = r.Resolve(context.Background(), "code", auth.ProviderApple)
		errutil.AssertErrorCode(t, err, auth.CodeFederationRejected)
	})
}
