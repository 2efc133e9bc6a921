// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/patronly/patronly/pkg/errutil"
)

// DefaultReapInterval is how often expired sessions are swept. It is
// deliberately independent of the session TTL.
const DefaultReapInterval = 5 * time.Minute

// ReaperConfig configures the ExpiryReaper.
type ReaperConfig struct {
	Interval time.Duration // How often to sweep
}

// DefaultReaperConfig returns the default reaper configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{Interval: DefaultReapInterval}
}

// SessionPurger deletes expired sessions. SessionRepository satisfies it.
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ReaperOption configures an ExpiryReaper.
type ReaperOption func(*ExpiryReaper)

// WithReaperLogger sets the reaper's logger.
func WithReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *ExpiryReaper) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReaperMetrics records sweep outcomes in m.
func WithReaperMetrics(m *Metrics) ReaperOption {
	return func(r *ExpiryReaper) { r.metrics = m }
}

// ExpiryReaper periodically deletes expired sessions.
//
// It sweeps once on Start and then every Interval until Stop. A failed or
// panicking sweep is logged and the loop carries on with the next tick; the
// reaper never stops on its own.
type ExpiryReaper struct {
	cfg     ReaperConfig
	purger  SessionPurger
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewExpiryReaper creates a new reaper.
func NewExpiryReaper(cfg ReaperConfig, purger SessionPurger, opts ...ReaperOption) (*ExpiryReaper, error) {
	if purger == nil {
		return nil, oops.Code("REAPER_INVALID").Errorf("session purger is required")
	}
	if cfg.Interval <= 0 {
		return nil, oops.Code("REAPER_INVALID").
			With("interval", cfg.Interval.String()).
			Errorf("reap interval must be positive")
	}

	r := &ExpiryReaper{
		cfg:    cfg,
		purger: purger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce performs a single sweep and returns the number of deleted sessions.
// A panic in the purger is recovered and returned as an error.
func (r *ExpiryReaper) RunOnce(ctx context.Context) (deleted int64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = oops.Code("REAPER_SWEEP_PANIC").
				With("panic", fmt.Sprint(rec)).
				Errorf("session sweep panicked")
		}
		if err != nil {
			r.metrics.recordSweep(OutcomeError, 0)
			return
		}
		r.metrics.recordSweep(OutcomeSuccess, deleted)
	}()

	deleted, err = r.purger.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("REAPER_SWEEP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return deleted, nil
}

// Start begins periodic sweeping. It returns an error if the reaper is
// already running.
func (r *ExpiryReaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return oops.Code("REAPER_ALREADY_RUNNING").Errorf("expiry reaper already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("expiry reaper started", "interval", r.cfg.Interval.String())
	return nil
}

// Stop stops the reaper and waits for an in-flight sweep to finish.
func (r *ExpiryReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("expiry reaper stopped")
}

func (r *ExpiryReaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *ExpiryReaper) sweep(ctx context.Context) {
	deleted, err := r.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		errutil.LogError(r.logger, "expired session sweep failed", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("deleted expired sessions", "count", deleted)
	} else {
		r.logger.Debug("deleted expired sessions", "count", deleted)
	}
}
