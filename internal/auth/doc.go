// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package auth provides account credentials, password hashing and
// cookie-transported sessions for Patronly.
//
// # Domain Types
//
//   - Account - an email address and an argon2id password digest
//   - Session - a token hash bound to an account with a server-computed expiry
//   - SessionGrant - what a successful signup or signin hands back to the caller
//
// Plaintext session tokens never reach a repository; only HashSessionToken
// output is stored.
//
// # Services
//
//   - Service - signup, signin, signout, validate and me
//   - ExpiryReaper - periodic deletion of expired sessions
//   - HashPool - bounded executor for password hashing
//
// Services are created with New* constructors that validate dependencies.
// Storage backends live in the postgres and redis subpackages.
package auth
