// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authredis "github.com/patronly/patronly/internal/auth/redis"
	"github.com/patronly/patronly/internal/store"
	"github.com/patronly/patronly/pkg/errutil"
)

func executeRoot(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	clearConfigEnv(t)
	root := newRootCmd(deps)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestReap_Postgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectExec("DELETE FROM sessions WHERE expires_at <= NOW\\(\\)").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectClose()

	var gotCfg store.PoolConfig
	deps := &Deps{PoolOpener: func(_ context.Context, cfg store.PoolConfig, _ *slog.Logger) (Pool, error) {
		gotCfg = cfg
		return mock, nil
	}}

	out, err := executeRoot(t, deps, "reap", "--database-url", "postgres://u@db/patronly")

	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 3 expired sessions")
	assert.Equal(t, "postgres://u@db/patronly", gotCfg.URL)
	assert.Equal(t, int32(10), gotCfg.MaxConns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReap_PostgresFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectExec("DELETE FROM sessions").WillReturnError(errors.New("connection reset"))
	mock.ExpectClose()

	deps := &Deps{PoolOpener: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
		return mock, nil
	}}

	_, err = executeRoot(t, deps, "reap", "--database-url", "postgres://u@db/patronly")

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_DELETE_EXPIRED_FAILED")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReap_PoolOpenFailure(t *testing.T) {
	deps := &Deps{PoolOpener: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
		return nil, errors.New("no route to host")
	}}

	_, err := executeRoot(t, deps, "reap", "--database-url", "postgres://u@db/patronly")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
}

func TestReap_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(epoch)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	repo := authredis.NewSessionRepository(client, authredis.DefaultKeyPrefix)
	ctx := context.Background()
	_, err := repo.Create(ctx, 1, "expired-hash", time.Minute)
	require.NoError(t, err)
	_, err = repo.Create(ctx, 1, "live-hash", 2*time.Hour)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.SetTime(epoch.Add(time.Hour))
	mr.FastForward(time.Hour)

	deps := &Deps{PoolOpener: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
		t.Fatal("redis backend must not open a database pool")
		return nil, nil
	}}

	out, err := executeRoot(t, deps, "reap", "--session-backend=redis", "--redis-addr", mr.Addr())

	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 expired sessions")
	assert.True(t, mr.Exists(authredis.DefaultKeyPrefix+":s:live-hash"))
}

func TestReap_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := executeRoot(t, nil, "reap", "--session-backend=redis", "--redis-addr", addr)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "REDIS_CONNECT_FAILED")
}
