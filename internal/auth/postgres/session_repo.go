// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/patronly/patronly/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
// Expiry is always computed and compared with the database clock.
type SessionRepository struct {
	pool Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a session expiring ttl after the database's NOW().
func (r *SessionRepository) Create(ctx context.Context, accountID auth.AccountID, tokenHash string, ttl time.Duration) (*auth.Session, error) {
	session := &auth.Session{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, account_id, token_hash, expires_at)
		VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))
		RETURNING created_at, expires_at
	`,
		session.ID.String(),
		int64(accountID),
		tokenHash,
		ttl.Seconds(),
	).Scan(&session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, oops.Code("SESSION_TOKEN_CONFLICT").
				With("account_id", accountID.String()).
				Wrap(auth.ErrConflict)
		case isForeignKeyViolation(err):
			return nil, oops.Code("SESSION_ACCOUNT_NOT_FOUND").
				With("account_id", accountID.String()).
				Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return session, nil
}

// Resolve returns the account owning a non-expired session.
func (r *SessionRepository) Resolve(ctx context.Context, tokenHash string) (auth.AccountID, error) {
	var accountID int64
	err := r.pool.QueryRow(ctx, `
		SELECT account_id
		FROM sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "resolve session by token hash").
			Wrap(err)
	}
	return auth.AccountID(accountID), nil
}

// Delete removes a session by token hash. Missing sessions are ignored.
func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes all expired sessions.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
