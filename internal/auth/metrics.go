// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for auth operation metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus collectors for the auth core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations     *prometheus.CounterVec
	HashDuration   *prometheus.HistogramVec
	ReaperSweeps   *prometheus.CounterVec
	SessionsReaped prometheus.Counter
}

// NewMetrics creates and registers the auth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patronly_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patronly_password_hash_duration_seconds",
				Help:    "Histogram of argon2id hash and verify latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		ReaperSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patronly_reaper_sweeps_total",
				Help: "Total number of expired-session sweeps by outcome",
			},
			[]string{"outcome"},
		),
		SessionsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "patronly_sessions_reaped_total",
				Help: "Total number of expired sessions deleted by the reaper",
			},
		),
	}

	reg.MustRegister(m.Operations)
	reg.MustRegister(m.HashDuration)
	reg.MustRegister(m.ReaperSweeps)
	reg.MustRegister(m.SessionsReaped)

	return m
}

func (m *Metrics) recordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeHash(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) recordSweep(outcome string, deleted int64) {
	if m == nil {
		return
	}
	m.ReaperSweeps.WithLabelValues(outcome).Inc()
	if deleted > 0 {
		m.SessionsReaped.Add(float64(deleted))
	}
}
