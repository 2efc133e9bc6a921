// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patronly/patronly/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a mock auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t testingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockAccountRepository) Create(ctx context.Context, email, passwordDigest string) (auth.AccountID, error) {
	ret := m.Called(ctx, email, passwordDigest)
	if fn, ok := ret.Get(0).(func(context.Context, string, string) (auth.AccountID, error)); ok {
		return fn(ctx, email, passwordDigest)
	}
	return ret.Get(0).(auth.AccountID), ret.Error(1)
}

// FindByEmail provides a mock function.
func (m *MockAccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	ret := m.Called(ctx, email)
	var account *auth.Account
	if v := ret.Get(0); v != nil {
		account = v.(*auth.Account)
	}
	return account, ret.Error(1)
}

// GetByID provides a mock function.
func (m *MockAccountRepository) GetByID(ctx context.Context, id auth.AccountID) (*auth.Account, error) {
	ret := m.Called(ctx, id)
	var account *auth.Account
	if v := ret.Get(0); v != nil {
		account = v.(*auth.Account)
	}
	return account, ret.Error(1)
}

// MockSessionRepository is a mock auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a mock that asserts its expectations on cleanup.
func NewMockSessionRepository(t testingT) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockSessionRepository) Create(ctx context.Context, accountID auth.AccountID, tokenHash string, ttl time.Duration) (*auth.Session, error) {
	ret := m.Called(ctx, accountID, tokenHash, ttl)
	var session *auth.Session
	if v := ret.Get(0); v != nil {
		session = v.(*auth.Session)
	}
	return session, ret.Error(1)
}

// Resolve provides a mock function.
func (m *MockSessionRepository) Resolve(ctx context.Context, tokenHash string) (auth.AccountID, error) {
	ret := m.Called(ctx, tokenHash)
	return ret.Get(0).(auth.AccountID), ret.Error(1)
}

// Delete provides a mock function.
func (m *MockSessionRepository) Delete(ctx context.Context, tokenHash string) error {
	return m.Called(ctx, tokenHash).Error(0)
}

// DeleteExpired provides a mock function.
func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ret := m.Called(ctx)
	return ret.Get(0).(int64), ret.Error(1)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function. Expectations receive the password as a string.
func (m *MockPasswordHasher) Hash(password []byte) (string, error) {
	ret := m.Called(string(password))
	return ret.String(0), ret.Error(1)
}

// Verify provides a mock function. Expectations receive the password as a string.
func (m *MockPasswordHasher) Verify(password []byte, digest string) (bool, error) {
	ret := m.Called(string(password), digest)
	return ret.Bool(0), ret.Error(1)
}

// MockTokenGenerator is a mock auth.TokenGenerator.
type MockTokenGenerator struct {
	mock.Mock
}

// NewMockTokenGenerator creates a mock that asserts its expectations on cleanup.
func NewMockTokenGenerator(t testingT) *MockTokenGenerator {
	m := &MockTokenGenerator{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Generate provides a mock function.
func (m *MockTokenGenerator) Generate() (string, error) {
	ret := m.Called()
	return ret.String(0), ret.Error(1)
}

var (
	_ auth.AccountRepository = (*MockAccountRepository)(nil)
	_ auth.SessionRepository = (*MockSessionRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.TokenGenerator    = (*MockTokenGenerator)(nil)
)
