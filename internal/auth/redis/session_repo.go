// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package redis implements auth.SessionRepository on Redis.
//
// Each session is a string key holding "<accountID>:<expiresUnixMilli>" with a
// native TTL, plus a member of a sorted set scored by expiry. The sorted set
// lets DeleteExpired find expired sessions without scanning the keyspace.
// All expiry comparisons use the Redis server clock (TIME).
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/patronly/patronly/internal/auth"
)

// DefaultKeyPrefix namespaces every key written by SessionRepository.
const DefaultKeyPrefix = "patronly"

// SessionRepository implements auth.SessionRepository using Redis.
type SessionRepository struct {
	client goredis.UniversalClient
	prefix string
}

// NewSessionRepository creates a new SessionRepository. An empty prefix uses
// DefaultKeyPrefix.
func NewSessionRepository(client goredis.UniversalClient, prefix string) *SessionRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SessionRepository{client: client, prefix: prefix}
}

func (r *SessionRepository) sessionKey(tokenHash string) string {
	return r.prefix + ":s:" + tokenHash
}

func (r *SessionRepository) expiryKey() string {
	return r.prefix + ":expiry"
}

// Create stores a session expiring ttl after the Redis server time.
func (r *SessionRepository) Create(ctx context.Context, accountID auth.AccountID, tokenHash string, ttl time.Duration) (*auth.Session, error) {
	now, err := r.now(ctx)
	if err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	expiresAt := now.Add(ttl)
	key := r.sessionKey(tokenHash)

	ok, err := r.client.SetNX(ctx, key, encodeValue(accountID, expiresAt), ttl).Result()
	if err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "set session key").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code("SESSION_TOKEN_CONFLICT").
			With("account_id", accountID.String()).
			Wrap(auth.ErrConflict)
	}

	if err := r.client.ZAdd(ctx, r.expiryKey(), goredis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: tokenHash,
	}).Err(); err != nil {
		_ = r.client.Del(ctx, key).Err() //nolint:errcheck // best-effort rollback
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "index session expiry").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	return &auth.Session{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve returns the account owning a non-expired session.
func (r *SessionRepository) Resolve(ctx context.Context, tokenHash string) (auth.AccountID, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(tokenHash)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session key").
			Wrap(err)
	}

	accountID, expiresAt, err := decodeValue(raw)
	if err != nil {
		return 0, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "decode session value").
			Wrap(err)
	}

	now, err := r.now(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_RESOLVE_FAILED").Wrap(err)
	}
	if !now.Before(expiresAt) {
		return 0, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return accountID, nil
}

// Delete removes a session and its index entry. Absent sessions are ignored.
func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(tokenHash))
		pipe.ZRem(ctx, r.expiryKey(), tokenHash)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session key").
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes every session whose expiry is at or before the Redis
// server time and returns how many index entries were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now, err := r.now(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)

	hashes, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "scan expiry index").
			Wrap(err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, r.sessionKey(h))
	}

	var removed *goredis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRemRangeByScore(ctx, r.expiryKey(), "-inf", maxScore)
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			With("count", len(keys)).
			Wrap(err)
	}
	return removed.Val(), nil
}

func (r *SessionRepository) now(ctx context.Context) (time.Time, error) {
	now, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, oops.With("operation", "read server time").Wrap(err)
	}
	return now, nil
}

func encodeValue(accountID auth.AccountID, expiresAt time.Time) string {
	return accountID.String() + ":" + strconv.FormatInt(expiresAt.UnixMilli(), 10)
}

func decodeValue(raw string) (auth.AccountID, time.Time, error) {
	idPart, expPart, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, time.Time{}, oops.Errorf("malformed session value %q", raw)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, time.Time{}, oops.Wrapf(err, "malformed account id in session value")
	}
	ms, err := strconv.ParseInt(expPart, 10, 64)
	if err != nil {
		return 0, time.Time{}, oops.Wrapf(err, "malformed expiry in session value")
	}
	return auth.AccountID(id), time.UnixMilli(ms), nil
}
