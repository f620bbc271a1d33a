// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package federation validates external identity assertions and maps them
// to verified email/name pairs. Google assertions are ID tokens checked
// against the tokeninfo introspection endpoint; Apple assertions are
// authorization codes exchanged at Apple's token endpoint.
package federation

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/keygate/keygate/internal/auth"
)

// defaultTimeout bounds every outbound provider call.
const defaultTimeout = 10 * time.Second

// Resolver implements auth.FederationResolver by dispatching to the
// configured providers. A provider left unconfigured rejects its
// assertions.
type Resolver struct {
	google *GoogleVerifier
	apple  *AppleExchanger
}

// Config carries the provider credentials from application configuration.
// Empty fields disable the corresponding provider.
type Config struct {
	GoogleClientID    string
	AppleClientID     string
	AppleClientSecret string

	// Timeout for outbound provider calls; defaults to 10s.
	Timeout time.Duration
}

// NewResolver creates a Resolver for the configured providers.
func NewResolver(cfg Config) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	r := &Resolver{}
	if cfg.GoogleClientID != "" {
		r.google = NewGoogleVerifier(cfg.GoogleClientID, client)
	}
	if cfg.AppleClientID != "" {
		r.apple = NewAppleExchanger(cfg.AppleClientID, cfg.AppleClientSecret, client)
	}
	return r
}

// Resolve validates the assertion with the named provider.
func (r *Resolver) Resolve(ctx context.Context, providerToken, provider string) (auth.Identity, error) {
	switch provider {
	case auth.ProviderGoogle:
		if r.google == nil {
			return auth.Identity{}, rejectedf("google provider is not configured")
		}
		return r.google.Verify(ctx, providerToken)
	case auth.ProviderApple:
		if r.apple == nil {
			return auth.Identity{}, rejectedf("apple provider is not configured")
		}
		return r.apple.Exchange(ctx, providerToken)
	default:
		return auth.Identity{}, oops.Code(auth.CodeFederationRejected).
			With("provider", provider).
			Errorf("unknown identity provider")
	}
}

func rejectedf(format string, args ...any) error {
	return oops.Code(auth.CodeFederationRejected).Errorf(format, args...)
}

func rejected(operation string, err error) error {
	return oops.Code(auth.CodeFederationRejected).
		With("operation", operation).
		Wrap(err)
}

// Compile-time interface check.
var _ auth.FederationResolver = (*Resolver)(nil)
