// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package store owns the PostgreSQL connection pool and the schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig configures OpenPool.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	ConnectRetries uint64        // Additional attempts after the first
	RetryBackoff   time.Duration // Base of the exponential backoff
}

// OpenPool connects to PostgreSQL and pings it, retrying with exponential
// backoff while the database is unreachable. The caller owns the pool.
func OpenPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}

	base := cfg.RetryBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := retry.WithCappedDuration(10*time.Second,
		retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(base)))

	attempt := 0
	pool, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*pgxpool.Pool, error) {
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			logger.Warn("database not reachable, retrying", "attempt", attempt, "error", err)
			return nil, retry.RetryableError(err)
		}
		return pool, nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", pgxCfg.ConnConfig.Host).
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("connected to database",
		"host", pgxCfg.ConnConfig.Host,
		"database", pgxCfg.ConnConfig.Database,
		"max_conns", pgxCfg.MaxConns)
	return pool, nil
}
