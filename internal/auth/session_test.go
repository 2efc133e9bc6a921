// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/patronly/patronly/internal/auth"
)

func TestSession_IsExpiredAt(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &auth.Session{AccountID: 7, ExpiresAt: expires}

	tests := []struct {
		name    string
		at      time.Time
		expired bool
	}{
		{"before expiry", expires.Add(-time.Second), false},
		{"just before expiry", expires.Add(-time.Nanosecond), false},
		{"at expiry", expires, true},
		{"after expiry", expires.Add(time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, session.IsExpiredAt(tt.at))
		})
	}
}

func TestAccountID_String(t *testing.T) {
	assert.Equal(t, "42", auth.AccountID(42).String())
}
