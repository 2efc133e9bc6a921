// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"context"
	"runtime"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// HashPool bounds the number of concurrent argon2id computations.
//
// Each argon2id call allocates the configured memory cost (64 MiB by
// default) and keeps a CPU busy for tens of milliseconds. Requests that need
// a hash wait for a slot; everything else (validate, signout) never touches
// the pool.
type HashPool struct {
	hasher  PasswordHasher
	sem     *semaphore.Weighted
	size    int64
	metrics *Metrics
}

// NewHashPool creates a HashPool running at most workers hashes at once.
// workers <= 0 means runtime.GOMAXPROCS(0).
func NewHashPool(hasher PasswordHasher, workers int, metrics *Metrics) (*HashPool, error) {
	if hasher == nil {
		return nil, oops.Code("HASH_POOL_INVALID").Errorf("password hasher is required")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &HashPool{
		hasher:  hasher,
		sem:     semaphore.NewWeighted(int64(workers)),
		size:    int64(workers),
		metrics: metrics,
	}, nil
}

// Size returns the number of concurrent hash slots.
func (p *HashPool) Size() int {
	return int(p.size)
}

// Hash waits for a slot and hashes the password.
// Waiting honours ctx; a started computation always runs to completion.
func (p *HashPool) Hash(ctx context.Context, password []byte) (string, error) {
	if err := p.acquire(ctx, "hash"); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	start := time.Now()
	digest, err := p.hasher.Hash(password)
	p.metrics.observeHash("hash", time.Since(start))
	return digest, err
}

// Verify waits for a slot and verifies the password against digest.
func (p *HashPool) Verify(ctx context.Context, password []byte, digest string) (bool, error) {
	if err := p.acquire(ctx, "verify"); err != nil {
		return false, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	ok, err := p.hasher.Verify(password, digest)
	p.metrics.observeHash("verify", time.Since(start))
	return ok, err
}

func (p *HashPool) acquire(ctx context.Context, operation string) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return oops.Code("HASH_POOL_WAIT_CANCELLED").
			With("operation", operation).
			Wrap(err)
	}
	return nil
}
