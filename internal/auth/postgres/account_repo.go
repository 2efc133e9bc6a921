// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/patronly/patronly/internal/auth"
)

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create inserts an account. The unique index on LOWER(email) decides
// conflicts; there is no read-before-write.
func (r *AccountRepository) Create(ctx context.Context, email, passwordDigest string) (auth.AccountID, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_digest)
		VALUES ($1, $2)
		RETURNING id
	`, email, passwordDigest).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, oops.Code("ACCOUNT_EMAIL_CONFLICT").
				With("email", email).
				Wrap(auth.ErrConflict)
		}
		return 0, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("email", email).
			Wrap(err)
	}
	return auth.AccountID(id), nil
}

// FindByEmail retrieves an account by email, ignoring case.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_digest, created_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id auth.AccountID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_digest, created_at
		FROM accounts
		WHERE id = $1
	`, int64(id))

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		id      int64
	)
	if err := row.Scan(&id, &account.Email, &account.PasswordDigest, &account.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	account.ID = auth.AccountID(id)
	return &account, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
