// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package auth implements the authentication and credential lifecycle engine.
//
// # Domain Types
//
// Account is the sole persisted entity, keyed by its case-normalized email
// address. Accounts should be created through NewAccount, which validates
// and normalizes the email. Direct struct initialization bypasses
// normalization and may create invalid state.
//
// # Components
//
//   - Engine - orchestrates register, login, passwordless, verify and
//     federated-login flows, and owns their ordering invariants
//   - PasswordHasher - one-way password hashing (argon2id, bcrypt legacy)
//   - TokenIssuer - signed, time-bounded bearer tokens
//   - CodeGenerator - short-lived one-time verification codes
//   - LockoutPolicy - failed-attempt counting and temporary lockout
//
// External collaborators (AccountRepository, CodeSender,
// FederationResolver) are consumed through interfaces; implementations
// live in subpackages and in internal/mail.
package auth
