// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package authtest provides in-memory auth repositories and a controllable
// clock for tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/patronly/patronly/internal/auth"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AccountStore is an in-memory AccountRepository. Emails are unique
// case-insensitively, matching the PostgreSQL index.
type AccountStore struct {
	clock *Clock

	mu      sync.RWMutex
	nextID  auth.AccountID
	byID    map[auth.AccountID]*auth.Account
	byEmail map[string]auth.AccountID // lower-cased email -> id
}

// NewAccountStore creates an empty store. clock may be nil.
func NewAccountStore(clock *Clock) *AccountStore {
	return &AccountStore{
		clock:   clock,
		byID:    make(map[auth.AccountID]*auth.Account),
		byEmail: make(map[string]auth.AccountID),
	}
}

// Create stores a new account.
func (s *AccountStore) Create(_ context.Context, email, passwordDigest string) (auth.AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := s.byEmail[key]; exists {
		return 0, oops.Code("ACCOUNT_CREATE_FAILED").With("email", email).Wrap(auth.ErrConflict)
	}

	s.nextID++
	account := &auth.Account{
		ID:             s.nextID,
		Email:          email,
		PasswordDigest: passwordDigest,
		CreatedAt:      now(s.clock),
	}
	s.byID[account.ID] = account
	s.byEmail[key] = account.ID
	return account.ID, nil
}

// FindByEmail returns the account registered under email, ignoring case.
func (s *AccountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	account := *s.byID[id]
	return &account, nil
}

// GetByID returns the account with id.
func (s *AccountStore) GetByID(_ context.Context, id auth.AccountID) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	cp := *account
	return &cp, nil
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// SessionStore is an in-memory SessionRepository whose expiry is driven by
// a Clock.
type SessionStore struct {
	clock *Clock

	mu       sync.RWMutex
	sessions map[string]*auth.Session // token hash -> session

	// CreateErr, when set, is returned by Create instead of storing.
	CreateErr error
	// DeleteExpiredErr, when set, is returned by DeleteExpired.
	DeleteExpiredErr error
}

// NewSessionStore creates an empty store. A nil clock uses time.Now.
func NewSessionStore(clock *Clock) *SessionStore {
	return &SessionStore{
		clock:    clock,
		sessions: make(map[string]*auth.Session),
	}
}

// Create stores a session expiring ttl after the clock's current time.
func (s *SessionStore) Create(_ context.Context, accountID auth.AccountID, tokenHash string, ttl time.Duration) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if _, exists := s.sessions[tokenHash]; exists {
		return nil, oops.Code("SESSION_CREATE_FAILED").Wrap(auth.ErrConflict)
	}

	created := now(s.clock)
	session := &auth.Session{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
	s.sessions[tokenHash] = session
	cp := *session
	return &cp, nil
}

// Resolve returns the owner of a non-expired session.
func (s *SessionStore) Resolve(_ context.Context, tokenHash string) (auth.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[tokenHash]
	if !ok || session.IsExpiredAt(now(s.clock)) {
		return 0, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return session.AccountID, nil
}

// Delete removes a session if present.
func (s *SessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteExpired removes every session expired at the clock's current time.
func (s *SessionStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteExpiredErr != nil {
		return 0, s.DeleteExpiredErr
	}

	t := now(s.clock)
	var deleted int64
	for hash, session := range s.sessions {
		if session.IsExpiredAt(t) {
			delete(s.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func now(c *Clock) time.Time {
	if c == nil {
		return time.Now()
	}
	return c.Now()
}

// Verify interfaces are satisfied.
var (
	_ auth.AccountRepository = (*AccountStore)(nil)
	_ auth.SessionRepository = (*SessionStore)(nil)
)
