// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/internal/auth/authtest"
	"github.com/patronly/patronly/pkg/errutil"
)

// scriptedPurger returns queued results in order, then zero.
type scriptedPurger struct {
	mu      sync.Mutex
	calls   int
	results []func() (int64, error)
	called  chan struct{}
}

func newScriptedPurger(results ...func() (int64, error)) *scriptedPurger {
	return &scriptedPurger{results: results, called: make(chan struct{}, 16)}
}

func (p *scriptedPurger) DeleteExpired(_ context.Context) (int64, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.mu.Unlock()

	defer func() {
		select {
		case p.called <- struct{}{}:
		default:
		}
	}()

	if i < len(p.results) {
		return p.results[i]()
	}
	return 0, nil
}

func (p *scriptedPurger) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestDefaultReaperConfig(t *testing.T) {
	assert.Equal(t, 5*time.Minute, auth.DefaultReaperConfig().Interval)
}

func TestNewExpiryReaper_Invalid(t *testing.T) {
	t.Run("nil purger", func(t *testing.T) {
		r, err := auth.NewExpiryReaper(auth.DefaultReaperConfig(), nil)
		require.Error(t, err)
		assert.Nil(t, r)
		errutil.AssertErrorCode(t, err, "REAPER_INVALID")
	})

	t.Run("non-positive interval", func(t *testing.T) {
		r, err := auth.NewExpiryReaper(auth.ReaperConfig{}, newScriptedPurger())
		require.Error(t, err)
		assert.Nil(t, r)
		errutil.AssertErrorCode(t, err, "REAPER_INVALID")
	})
}

func TestExpiryReaper_RunOnce_DeletesExactlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := authtest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := authtest.NewSessionStore(clock)

	const expired, live = 5, 3
	for i := range expired {
		_, err := store.Create(ctx, 1, auth.HashSessionToken("expired"+string(rune('a'+i))), time.Minute)
		require.NoError(t, err)
	}
	for i := range live {
		_, err := store.Create(ctx, 2, auth.HashSessionToken("live"+string(rune('a'+i))), time.Hour)
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)

	reg := prometheus.NewRegistry()
	metrics := auth.NewMetrics(reg)
	reaper, err := auth.NewExpiryReaper(auth.DefaultReaperConfig(), store, auth.WithReaperMetrics(metrics))
	require.NoError(t, err)

	deleted, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(expired), deleted)
	assert.Equal(t, live, store.Len())

	assert.Equal(t, float64(expired), testutil.ToFloat64(metrics.SessionsReaped))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReaperSweeps.WithLabelValues(auth.OutcomeSuccess)))

	deleted, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestExpiryReaper_RunOnce_Error(t *testing.T) {
	purger := newScriptedPurger(func() (int64, error) { return 0, errors.New("connection refused") })

	reg := prometheus.NewRegistry()
	metrics := auth.NewMetrics(reg)
	reaper, err := auth.NewExpiryReaper(auth.DefaultReaperConfig(), purger, auth.WithReaperMetrics(metrics))
	require.NoError(t, err)

	deleted, err := reaper.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, deleted)
	assert.Contains(t, err.Error(), "connection refused")
	errutil.AssertErrorCode(t, err, "REAPER_SWEEP_FAILED")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReaperSweeps.WithLabelValues(auth.OutcomeError)))
}

func TestExpiryReaper_RunOnce_RecoversPanic(t *testing.T) {
	purger := newScriptedPurger(func() (int64, error) { panic("boom") })
	reaper, err := auth.NewExpiryReaper(auth.DefaultReaperConfig(), purger)
	require.NoError(t, err)

	deleted, err := reaper.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, deleted)
	errutil.AssertErrorCode(t, err, "REAPER_SWEEP_PANIC")
	errutil.AssertErrorContext(t, err, "panic", "boom")
}

func TestExpiryReaper_StartStop_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	purger := newScriptedPurger()
	reaper, err := auth.NewExpiryReaper(auth.ReaperConfig{Interval: time.Hour}, purger)
	require.NoError(t, err)

	require.NoError(t, reaper.Start(context.Background()))

	// Sweeps immediately on start.
	select {
	case <-purger.called:
	case <-time.After(time.Second):
		t.Fatal("reaper did not sweep on start")
	}

	err = reaper.Start(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "REAPER_ALREADY_RUNNING")

	reaper.Stop()
	reaper.Stop() // idempotent
	assert.Equal(t, 1, purger.Calls())
}

func TestExpiryReaper_ContinuesAfterFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	purger := newScriptedPurger(
		func() (int64, error) { return 0, errors.New("database unavailable") },
		func() (int64, error) { panic("driver bug") },
		func() (int64, error) { return 4, nil },
	)
	reaper, err := auth.NewExpiryReaper(auth.ReaperConfig{Interval: 5 * time.Millisecond}, purger)
	require.NoError(t, err)

	require.NoError(t, reaper.Start(context.Background()))
	defer reaper.Stop()

	assert.Eventually(t, func() bool { return purger.Calls() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestExpiryReaper_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	purger := newScriptedPurger()
	reaper, err := auth.NewExpiryReaper(auth.ReaperConfig{Interval: time.Millisecond}, purger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, reaper.Start(ctx))
	cancel()

	// Stop still waits for the goroutine after the parent context ends.
	reaper.Stop()
}
