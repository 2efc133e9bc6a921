// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import "errors"

// Repository-level sentinels.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Service-level sentinels. Errors returned by Service wrap exactly one of
// these so callers can classify them with errors.Is.
var (
	ErrInvalidEmail          = errors.New("invalid email")
	ErrEmptyPassword         = errors.New("password cannot be empty")
	ErrEmailTaken            = errors.New("account already exists")
	ErrAccountNotFound       = errors.New("account not found")
	ErrIncorrectPassword     = errors.New("incorrect password")
	ErrMissingToken          = errors.New("missing session token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired session token")
	ErrCorruptDigest         = errors.New("corrupt password digest")

	// ErrSessionNotPersisted marks a signup whose account was stored but whose
	// session was not. The account exists; the user should sign in.
	ErrSessionNotPersisted = errors.New("account created but session could not be saved")
)

// InvalidEmailError carries the reason an address was rejected.
type InvalidEmailError struct {
	Reason string
}

func (e *InvalidEmailError) Error() string {
	return "invalid email: " + e.Reason
}

// Is reports ErrInvalidEmail as the matching sentinel.
func (e *InvalidEmailError) Is(target error) bool {
	return target == ErrInvalidEmail
}
