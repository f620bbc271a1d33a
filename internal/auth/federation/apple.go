// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package federation

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/keygate/keygate/internal/auth"
)

// appleTokenURL is Apple's authorization-code exchange endpoint.
const appleTokenURL = "https://appleid.apple.com/auth/token"

// AppleExchanger validates Sign in with Apple authorization codes by
// exchanging them at Apple's token endpoint. The TLS exchange with the
// client secret authenticates the response, so the returned id_token's
// claims can be read without a second signature check; audience and expiry
// are still verified against configuration.
type AppleExchanger struct {
	clientID string
	conf     *oauth2.Config
	client   *http.Client
}

// NewAppleExchanger creates an AppleExchanger for the given service ID and
// client secret.
func NewAppleExchanger(clientID, clientSecret string, client *http.Client) *AppleExchanger {
	return &AppleExchanger{
		clientID: clientID,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: appleTokenURL},
		},
		client: client,
	}
}

// Exchange trades an authorization code for Apple's id_token and extracts
// the verified identity from it.
func (a *AppleExchanger) Exchange(ctx context.Context, code string) (auth.Identity, error) {
	if code == "" {
		return auth.Identity{}, rejectedf("apple authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	token, err := a.conf.Exchange(ctx, code)
	if err != nil {
		return auth.Identity{}, rejected("exchange authorization code", err)
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return auth.Identity{}, rejectedf("apple response carries no id_token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return auth.Identity{}, rejected("parse id_token", err)
	}

	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 || aud[0] != a.clientID {
		return auth.Identity{}, rejectedf("apple token audience mismatch")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || time.Now().After(exp.Time) {
		return auth.Identity{}, rejectedf("apple token is expired")
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return auth.Identity{}, rejectedf("apple token carries no email")
	}
	name, _ := claims["name"].(string)

	return auth.Identity{
		Provider: auth.ProviderApple,
		Email:    email,
		Name:     name,
	}, nil
}
