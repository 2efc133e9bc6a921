// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultSessionTTL is how long a session stays valid after it is issued.
const DefaultSessionTTL = time.Hour

// Session binds a session token (by hash) to an account until ExpiresAt.
type Session struct {
	ID        ulid.ULID
	AccountID AccountID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpiredAt returns true if the session is no longer valid at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionGrant is handed back to the caller after signup or signin.
// Token is the plaintext value for the client cookie; it is not stored.
type SessionGrant struct {
	Token     string
	AccountID AccountID
	ExpiresAt time.Time
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a session for accountID. The store computes
	// ExpiresAt = now + ttl from its own clock and returns the stored session.
	Create(ctx context.Context, accountID AccountID, tokenHash string, ttl time.Duration) (*Session, error)

	// Resolve returns the account owning a non-expired session.
	// Returns ErrNotFound if the session is absent or expired.
	Resolve(ctx context.Context, tokenHash string) (AccountID, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteExpired removes all expired sessions and returns the count
	// of deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
