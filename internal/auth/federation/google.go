// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keygate/keygate/internal/auth"
)

// googleTokenInfoURL is Google's ID-token introspection endpoint. The
// endpoint itself validates the token signature; we additionally check
// audience, expiry, and that the email is provider-verified.
const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleVerifier validates Google ID tokens by introspection.
type GoogleVerifier struct {
	clientID string
	client   *http.Client
	endpoint string
}

// NewGoogleVerifier creates a GoogleVerifier for the given OAuth client ID.
func NewGoogleVerifier(clientID string, client *http.Client) *GoogleVerifier {
	return &GoogleVerifier{
		clientID: clientID,
		client:   client,
		endpoint: googleTokenInfoURL,
	}
}

// tokenInfo is the subset of the tokeninfo response we act on. Numeric and
// boolean claims arrive as strings.
type tokenInfo struct {
	Audience      string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Expiry        string `json:"exp"`
}

// Verify introspects an ID token and returns the provider-verified identity.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (auth.Identity, error) {
	if idToken == "" {
		return auth.Identity{}, rejectedf("google id token is required")
	}

	reqURL := v.endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return auth.Identity{}, rejected("build tokeninfo request", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return auth.Identity{}, rejected("call tokeninfo endpoint", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode != http.StatusOK {
		return auth.Identity{}, rejectedf("google rejected the id token (status %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return auth.Identity{}, rejected("read tokeninfo response", err)
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return auth.Identity{}, rejected("decode tokeninfo response", err)
	}

	if info.Audience != v.clientID {
		return auth.Identity{}, rejectedf("google token audience mismatch")
	}
	if exp, err := strconv.ParseInt(info.Expiry, 10, 64); err != nil || time.Now().Unix() >= exp {
		return auth.Identity{}, rejectedf("google token is expired")
	}
	if info.Email == "" || info.EmailVerified != "true" {
		return auth.Identity{}, rejectedf("google token carries no verified email")
	}

	return auth.Identity{
		Provider: auth.ProviderGoogle,
		Email:    info.Email,
		Name:     info.Name,
	}, nil
}
