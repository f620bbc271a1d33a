// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package auth

import "context"

// Federated identity providers accepted by the engine.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// Identity is a normalized external identity assertion: facts returned by a
// provider, no decisions. The email is provider-verified, so no local
// verification code is issued for it.
type Identity struct {
	Provider string
	Email    string
	Name     string
}

// FederationResolver validates an external provider assertion and maps it
// to a verified email and display name. Invalid, expired, or
// audience-mismatched assertions fail with the AUTH_FEDERATION_REJECTED
// code. Implementations live in internal/auth/federation.
type FederationResolver interface {
	Resolve(ctx context.Context, providerToken, provider string) (Identity, error)
}
