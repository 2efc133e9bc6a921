// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronly/patronly/internal/config"
	"github.com/patronly/patronly/internal/observability"
	"github.com/patronly/patronly/internal/store"
	"github.com/patronly/patronly/pkg/errutil"
)

type serveHarness struct {
	t      *testing.T
	cancel context.CancelFunc
	errCh  chan error
	addr   string
}

// startServe runs serve in the background and waits until it accepts
// requests.
func startServe(t *testing.T, cfg *config.Config, deps *Deps) *serveHarness {
	t.Helper()
	return startServeWithCmd(t, cfg, deps, newTestCmd(io.Discard))
}

func startServeWithCmd(t *testing.T, cfg *config.Config, deps *Deps, cmd *cobra.Command) *serveHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan string, 1)
	deps.OnReady = func(addr string) { ready <- addr }

	h := &serveHarness{t: t, cancel: cancel, errCh: make(chan error, 1)}
	go func() { h.errCh <- runServeWithDeps(ctx, cfg, cmd, deps) }()

	select {
	case h.addr = <-ready:
	case err := <-h.errCh:
		t.Fatalf("serve exited before becoming ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}
	return h
}

func (h *serveHarness) stop() error {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(10 * time.Second):
		h.t.Fatal("serve did not shut down")
		return nil
	}
}

func mockPoolDeps(t *testing.T, mock pgxmock.PgxPoolIface) *Deps {
	t.Helper()
	return &Deps{PoolOpener: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
		return mock, nil
	}}
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServe_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	cfg := testConfig()
	cfg.Session.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	h := startServe(t, cfg, mockPoolDeps(t, mock))

	resp := get(t, "http://"+h.addr+"/auth/validate")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, h.stop())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServe_LogsHashingConfiguration(t *testing.T) {
	mr := miniredis.RunT(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	cfg := testConfig()
	cfg.Session.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Log.Level = "info"
	cfg.Hasher.Workers = 3

	var logs bytes.Buffer
	cmd := newTestCmd(io.Discard)
	cmd.SetErr(&logs)

	h := startServeWithCmd(t, cfg, mockPoolDeps(t, mock), cmd)
	require.NoError(t, h.stop())

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var e map[string]any
		if json.Unmarshal([]byte(line), &e) == nil && e["msg"] == "password hashing configured" {
			entry = e
		}
	}
	require.NotNil(t, entry, logs.String())
	assert.InDelta(t, 3, entry["workers"], 0)
	assert.InDelta(t, 64, entry["memory_kib"], 0)
	assert.InDelta(t, 1, entry["iterations"], 0)
	assert.InDelta(t, 1, entry["threads"], 0)
}

func TestServe_ObservabilityEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectPing()
	mock.ExpectClose()

	cfg := testConfig()
	cfg.Session.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Metrics.Addr = "127.0.0.1:0"

	var obs *observability.Server
	deps := mockPoolDeps(t, mock)
	deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
		obs = observability.NewServer(addr, ready, logger)
		return obs
	}

	h := startServe(t, cfg, deps)
	require.NotNil(t, obs)
	obsBase := "http://" + obs.Addr()

	assert.Equal(t, http.StatusUnauthorized, get(t, "http://"+h.addr+"/auth/validate").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, obsBase+"/healthz/liveness").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, obsBase+"/healthz/readiness").StatusCode)

	metrics, err := io.ReadAll(get(t, obsBase+"/metrics").Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "patronly_http_requests_total")

	require.NoError(t, h.stop())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServe_PostgresBackendStartsReaper(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectClose()

	var reg *prometheus.Registry
	deps := mockPoolDeps(t, mock)
	deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
		srv := observability.NewServer(addr, ready, logger)
		reg = srv.Registry()
		return srv
	}

	h := startServe(t, testConfig(), deps)

	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "patronly_reaper_sweeps_total")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond, "reaper sweeps on start")

	require.NoError(t, h.stop())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServe_AutoMigrate(t *testing.T) {
	mr := miniredis.RunT(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	m := &fakeMigrator{}
	cfg := testConfig()
	cfg.Database.AutoMigrate = true
	cfg.Session.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	deps := mockPoolDeps(t, mock)
	deps.MigratorFactory = func(databaseURL string) (Migrator, error) {
		assert.Equal(t, cfg.Database.URL, databaseURL)
		return m, nil
	}

	h := startServe(t, cfg, deps)
	require.NoError(t, h.stop())

	assert.Equal(t, []string{"up"}, m.calls)
	assert.True(t, m.closed)
}

func TestServe_StartupFailures(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database.URL = ""

		err := runServeWithDeps(context.Background(), cfg, newTestCmd(io.Discard), &Deps{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("database unreachable", func(t *testing.T) {
		deps := &Deps{PoolOpener: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
			return nil, errors.New("connection refused")
		}}

		err := runServeWithDeps(context.Background(), testConfig(), newTestCmd(io.Discard), deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("migration failure closes the pool", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectClose()

		cfg := testConfig()
		cfg.Database.AutoMigrate = true
		deps := mockPoolDeps(t, mock)
		deps.MigratorFactory = func(string) (Migrator, error) {
			return &fakeMigrator{err: errors.New("dirty database")}, nil
		}

		err = runServeWithDeps(context.Background(), cfg, newTestCmd(io.Discard), deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dirty database")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectClose()

		cfg := testConfig()
		cfg.Session.Backend = config.BackendRedis
		cfg.Redis.Addr = addr

		err = runServeWithDeps(context.Background(), cfg, newTestCmd(io.Discard), mockPoolDeps(t, mock))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "REDIS_CONNECT_FAILED")
	})

	t.Run("listen failure", func(t *testing.T) {
		mr := miniredis.RunT(t)
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectClose()

		cfg := testConfig()
		cfg.Session.Backend = config.BackendRedis
		cfg.Redis.Addr = mr.Addr()
		deps := mockPoolDeps(t, mock)
		deps.ListenerFactory = func(string, string) (net.Listener, error) {
			return nil, errors.New("address already in use")
		}

		err = runServeWithDeps(context.Background(), cfg, newTestCmd(io.Discard), deps)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "HTTP_LISTEN_FAILED")
	})
}

func TestMonitorServerErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")

		monitorServerErrors(ctx, cancel, errCh, "test", logger)
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test", logger)
		assert.NoError(t, ctx.Err())
	})
}
