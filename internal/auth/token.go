// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/samber/oops"
)

// SessionTokenLength is the number of characters in a session token.
const SessionTokenLength = 64

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Largest multiple of len(tokenAlphabet) below 256; bytes at or above it are
// discarded so every character is equally likely.
const tokenRejectAbove = 256 - 256%len(tokenAlphabet)

// TokenGenerator produces opaque session tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator draws alphanumeric tokens from crypto/rand.
type RandomTokenGenerator struct{}

// Generate returns a new SessionTokenLength-character token.
func (RandomTokenGenerator) Generate() (string, error) {
	token := make([]byte, 0, SessionTokenLength)
	buf := make([]byte, SessionTokenLength+SessionTokenLength/4)

	for len(token) < SessionTokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
				With("operation", "crypto/rand.Read").
				With("requested_bytes", len(buf)).
				Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= tokenRejectAbove {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == SessionTokenLength {
				break
			}
		}
	}

	return string(token), nil
}

// HashSessionToken computes the hex SHA-256 of a session token.
// Repositories only ever see this value.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
