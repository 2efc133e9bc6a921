// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/internal/auth/postgres"
	authredis "github.com/patronly/patronly/internal/auth/redis"
	"github.com/patronly/patronly/internal/config"
	"github.com/patronly/patronly/internal/logging"
	"github.com/patronly/patronly/internal/observability"
	"github.com/patronly/patronly/internal/store"
)

// setupLogging installs the configured logger as the slog default, writing
// to the command's error stream.
func setupLogging(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
}

func openPool(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (Pool, error) {
	databaseURL, err := cfg.RequireDatabaseURL()
	if err != nil {
		return nil, err
	}

	pool, err := deps.PoolOpener(ctx, store.PoolConfig{
		URL:            databaseURL,
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		ConnectRetries: cfg.Database.ConnectRetries,
		RetryBackoff:   cfg.Database.RetryBackoff,
	}, logger)
	if err != nil {
		return nil, oops.With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")
	return pool, nil
}

// sessionStore is the configured session backend plus what serve needs to
// supervise it.
type sessionStore struct {
	repo   auth.SessionRepository
	checks []observability.ReadinessChecker
	close  func()
}

// openSessionStore builds the session repository for cfg.Session.Backend.
// pool may be nil for the redis backend.
func openSessionStore(ctx context.Context, cfg *config.Config, pool Pool, deps *Deps, logger *slog.Logger) (*sessionStore, error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		client := deps.RedisClientFactory(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close() //nolint:errcheck // ping error takes precedence
			return nil, oops.Code("REDIS_CONNECT_FAILED").
				With("addr", cfg.Redis.Addr).
				Wrap(err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)

		return &sessionStore{
			repo: authredis.NewSessionRepository(client, cfg.Redis.KeyPrefix),
			checks: []observability.ReadinessChecker{func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}},
			close: func() {
				if err := client.Close(); err != nil {
					logger.Warn("error closing redis client", "error", err)
				}
			},
		}, nil

	case config.BackendPostgres:
		if pool == nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("key", "session.backend").
				Errorf("postgres session backend requires a database pool")
		}
		return &sessionStore{
			repo:  postgres.NewSessionRepository(pool),
			close: func() {},
		}, nil

	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("key", "session.backend").
			Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// applyMigrations runs every pending migration against databaseURL.
func applyMigrations(deps *Deps, databaseURL string, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.With("operation", "create migrator").Wrap(err)
	}
	defer closeMigrator(m, logger)

	if err := m.Up(); err != nil {
		return oops.With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database schema is up to date")
	return nil
}

func closeMigrator(m Migrator, logger *slog.Logger) {
	if err := m.Close(); err != nil {
		logger.Warn("error closing migrator", "error", err)
	}
}
