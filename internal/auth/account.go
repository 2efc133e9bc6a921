// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"context"
	"strconv"
	"time"
)

// AccountID identifies an account. It is assigned by the account store.
type AccountID int64

func (id AccountID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Account is a registered email/password credential.
type Account struct {
	ID             AccountID
	Email          string
	PasswordDigest string
	CreatedAt      time.Time
}

// AccountRepository manages account persistence.
// Accounts are never updated or deleted through this interface.
type AccountRepository interface {
	// Create stores a new account and returns its assigned ID.
	// Returns an error wrapping ErrConflict if the email is already registered
	// (compared case-insensitively).
	Create(ctx context.Context, email, passwordDigest string) (AccountID, error)

	// FindByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// GetByID retrieves an account by ID.
	// Returns ErrNotFound if the account does not exist.
	GetByID(ctx context.Context, id AccountID) (*Account, error)
}
