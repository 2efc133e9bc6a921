// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id work factors embedded in every digest.
type Argon2Params struct {
	Memory  uint32 // KiB
	Time    uint32 // iterations
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:  64 * 1024,
		Time:    1,
		Threads: 4,
		SaltLen: 16,
		KeyLen:  32,
	}
}

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing argon2id digest of the password.
	Hash(password []byte) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// wrapping ErrCorruptDigest when the digest cannot be parsed.
	Verify(password []byte, digest string) (bool, error)
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom parameters.
// Zero fields fall back to the defaults.
func NewArgon2idHasherWithParams(p Argon2Params) *Argon2idHasher {
	def := DefaultArgon2Params()
	if p.Memory == 0 {
		p.Memory = def.Memory
	}
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = def.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = def.KeyLen
	}
	return &Argon2idHasher{params: p}
}

// Params returns the parameters used for new digests.
func (h *Argon2idHasher) Params() Argon2Params {
	return h.params
}

// Hash produces an argon2id digest of the password in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (h *Argon2idHasher) Hash(password []byte) (string, error) {
	if len(password) == 0 {
		return "", emptyPassword()
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey(password, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks if the password matches the digest.
func (h *Argon2idHasher) Verify(password []byte, digest string) (bool, error) {
	d, err := parseDigest(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(password, d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.hash)))

	return subtle.ConstantTimeCompare(computed, d.hash) == 1, nil
}

type parsedDigest struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

func emptyPassword() error {
	return oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrEmptyPassword)
}

func corruptDigest(format string, args ...any) error {
	return oops.Code("AUTH_CORRUPT_DIGEST").Wrapf(ErrCorruptDigest, format, args...)
}

func parseDigest(digest string) (*parsedDigest, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, corruptDigest("invalid digest format")
	}

	if parts[1] != "argon2id" {
		return nil, corruptDigest("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, corruptDigest("invalid version segment %q", parts[2])
	}
	if version != argon2.Version {
		return nil, corruptDigest("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, corruptDigest("invalid parameter segment %q", parts[3])
	}
	if memory == 0 || time == 0 {
		return nil, corruptDigest("memory and time must be positive")
	}
	// threads is a uint8 in argon2.IDKey; reject rather than truncate.
	if threads == 0 || threads > 255 {
		return nil, corruptDigest("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, corruptDigest("invalid salt encoding")
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, corruptDigest("invalid hash encoding")
	}
	if len(hash) == 0 || len(hash) > 1<<30 {
		return nil, corruptDigest("invalid hash key length: %d", len(hash))
	}

	return &parsedDigest{
		params: Argon2Params{
			Memory:  memory,
			Time:    time,
			Threads: uint8(threads),
			SaltLen: uint32(len(salt)),
			KeyLen:  uint32(len(hash)),
		},
		salt: salt,
		hash: hash,
	}, nil
}
