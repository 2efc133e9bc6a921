// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/patronly/patronly/pkg/errutil"
)

// Operation names used in logs and metrics.
const (
	OpSignup   = "signup"
	OpSignin   = "signin"
	OpSignout  = "signout"
	OpValidate = "validate"
	OpMe       = "me"
)

// Service provides authentication operations.
type Service struct {
	accounts      AccountRepository
	sessions      SessionRepository
	hashes        *HashPool
	tokens        TokenGenerator
	validateEmail EmailValidator
	ttl           time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	equalizeTiming bool
	dummyDigest    string
}

// Option configures a Service.
type Option func(*Service)

// WithTokenGenerator replaces the crypto/rand token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) { s.tokens = g }
}

// WithEmailValidator replaces NormalizeEmail.
func WithEmailValidator(v EmailValidator) Option {
	return func(s *Service) { s.validateEmail = v }
}

// WithSessionTTL sets the session lifetime. Non-positive values are ignored.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger. A nil logger is rejected by NewService.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records operation outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSigninTimingEqualization makes Signin run a password verification even
// when the account does not exist, so response time does not reveal whether
// an email is registered. The AccountNotFound result itself is unchanged.
func WithSigninTimingEqualization(enabled bool) Option {
	return func(s *Service) { s.equalizeTiming = enabled }
}

// NewService creates a new Service.
func NewService(accounts AccountRepository, sessions SessionRepository, hashes *HashPool, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("sessions repository is required")
	}
	if hashes == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("hash pool is required")
	}

	s := &Service{
		accounts:      accounts,
		sessions:      sessions,
		hashes:        hashes,
		tokens:        RandomTokenGenerator{},
		validateEmail: NormalizeEmail,
		ttl:           DefaultSessionTTL,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger cannot be nil")
	}
	if s.tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token generator cannot be nil")
	}
	if s.validateEmail == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("email validator cannot be nil")
	}

	if s.equalizeTiming {
		// Hashed with the live parameters so a dummy verify costs the same as
		// a real one.
		digest, err := hashes.Hash(context.Background(), []byte("patronly-timing-equalization"))
		if err != nil {
			return nil, oops.Code("AUTH_SERVICE_INVALID").
				With("operation", "compute dummy digest").
				Wrap(err)
		}
		s.dummyDigest = digest
	}

	return s, nil
}

// SessionTTL returns the lifetime given to new sessions.
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

// Signup registers an account and opens a session for it.
//
// If the account is stored but the session is not, the returned error wraps
// ErrSessionNotPersisted: the caller should tell the user to sign in rather
// than sign up again.
func (s *Service) Signup(ctx context.Context, email, password string) (grant *SessionGrant, err error) {
	defer func() { s.record(OpSignup, err) }()

	normalized, err := s.validateEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, emptyPassword()
	}

	digest, err := s.hashes.Hash(ctx, []byte(password))
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	accountID, err := s.accounts.Create(ctx, normalized, digest)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code("AUTH_EMAIL_TAKEN").
				With("email", normalized).
				Wrap(ErrEmailTaken)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account created", "account_id", accountID.String())

	grant, err = s.openSession(ctx, accountID)
	if err != nil {
		errutil.LogError(s.logger, "account created but session could not be opened", err)
		return nil, oops.Code("AUTH_SIGNUP_SESSION_FAILED").
			With("account_id", accountID.String()).
			Wrap(errors.Join(ErrSessionNotPersisted, err))
	}

	return grant, nil
}

// Signin verifies credentials and opens a new session.
//
// Unknown accounts return ErrAccountNotFound before any password work unless
// timing equalization is enabled.
func (s *Service) Signin(ctx context.Context, email, password string) (grant *SessionGrant, err error) {
	defer func() { s.record(OpSignin, err) }()

	normalized, err := s.validateEmail(email)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.equalizeTiming {
				_, _ = s.hashes.Verify(ctx, []byte(password), s.dummyDigest) //nolint:errcheck // timing only
			}
			return nil, oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("email", normalized).
				Wrap(ErrAccountNotFound)
		}
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "find account by email").
			Wrap(err)
	}

	valid, err := s.hashes.Verify(ctx, []byte(password), account.PasswordDigest)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, oops.Code("AUTH_INCORRECT_PASSWORD").
			With("account_id", account.ID.String()).
			Wrap(ErrIncorrectPassword)
	}

	grant, err = s.openSession(ctx, account.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "open session").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	return grant, nil
}

// Signout deletes the session for token. Unknown tokens are not an error.
func (s *Service) Signout(ctx context.Context, token string) (err error) {
	defer func() { s.record(OpSignout, err) }()

	if token == "" {
		return missingToken("session token cannot be empty")
	}

	if err := s.sessions.Delete(ctx, HashSessionToken(token)); err != nil {
		return oops.Code("AUTH_SIGNOUT_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// Validate resolves token to the account owning its session.
func (s *Service) Validate(ctx context.Context, token string) (id AccountID, err error) {
	defer func() { s.record(OpValidate, err) }()
	return s.resolve(ctx, token)
}

// Me resolves token and loads the owning account.
func (s *Service) Me(ctx context.Context, token string) (account *Account, err error) {
	defer func() { s.record(OpMe, err) }()

	accountID, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	account, err = s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("account_id", accountID.String()).
				Wrap(ErrAccountNotFound)
		}
		return nil, oops.Code("AUTH_ME_FAILED").
			With("operation", "get account by id").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return account, nil
}

func (s *Service) resolve(ctx context.Context, token string) (AccountID, error) {
	if token == "" {
		return 0, missingToken("session token cannot be empty")
	}

	accountID, err := s.sessions.Resolve(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidOrExpiredToken)
		}
		return 0, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "resolve session").
			Wrap(err)
	}
	return accountID, nil
}

func (s *Service) openSession(ctx context.Context, accountID AccountID) (*SessionGrant, error) {
	token, err := s.tokens.Generate()
	if err != nil {
		return nil, oops.With("operation", "generate session token").Wrap(err)
	}

	session, err := s.sessions.Create(ctx, accountID, HashSessionToken(token), s.ttl)
	if err != nil {
		return nil, oops.With("operation", "persist session").Wrap(err)
	}

	return &SessionGrant{
		Token:     token,
		AccountID: accountID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) record(operation string, err error) {
	switch {
	case err == nil:
		s.metrics.recordOperation(operation, OutcomeSuccess)
	case IsClientError(err):
		s.metrics.recordOperation(operation, OutcomeFailure)
	default:
		s.metrics.recordOperation(operation, OutcomeError)
	}
}

// IsClientError reports whether err is caused by the caller's input or
// credentials rather than by infrastructure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidEmail,
		ErrEmptyPassword,
		ErrEmailTaken,
		ErrAccountNotFound,
		ErrIncorrectPassword,
		ErrMissingToken,
		ErrInvalidOrExpiredToken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
