// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/patronly/patronly/internal/auth/postgres"
	"github.com/patronly/patronly/internal/observability"
	"github.com/patronly/patronly/internal/store"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolOpener connects to PostgreSQL.
	// Default: store.OpenPool
	PoolOpener func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Pool, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// RedisClientFactory creates the client for the redis session backend.
	// Default: goredis.NewClient
	RedisClientFactory func(opts *goredis.Options) goredis.UniversalClient

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the auth HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// OnReady is called with the bound auth HTTP address once serve is
	// accepting requests.
	OnReady func(httpAddr string)
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Registry() *prometheus.Registry
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// withDefaults returns a copy of d with every nil field filled in.
func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.PoolOpener == nil {
		out.PoolOpener = func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Pool, error) {
			pool, err := store.OpenPool(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = func(opts *goredis.Options) goredis.UniversalClient {
			return goredis.NewClient(opts)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return out
}
