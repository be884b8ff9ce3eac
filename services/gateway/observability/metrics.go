// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the session lifecycle and the frames moved by each session's
// transport adapter:
//   - Session counters (started by mode/protocol, closed by final state)
//   - Active session gauge and session duration histogram
//   - Frame counters (sent by kind, received, dropped by reason)
//   - Abandoned runs (workflow did not stop within the shutdown grace)
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics, so callers never need to check
// whether metrics are enabled.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace  = "calcflow"
	sessionSubsystem  = "session"
	transportSubsytem = "transport"
)

// Metrics holds all gateway metrics.
//
// # Fields
//
//   - SessionsStarted: Sessions accepted, by mode and protocol.
//   - SessionsClosed: Sessions torn down, by final state.
//   - ActiveSessions: Sessions currently open, by mode.
//   - SessionDuration: Time from accept to teardown, by final state.
//   - FramesSent: Frames written to clients, by kind (notification, prompt).
//   - FramesReceived: Frames read from clients.
//   - FramesDropped: Client frames discarded, by reason.
//   - AbandonedRuns: Workflow runs that outlived the shutdown grace.
type Metrics struct {
	SessionsStarted *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	ActiveSessions  *prometheus.GaugeVec
	SessionDuration *prometheus.HistogramVec

	FramesSent     *prometheus.CounterVec
	FramesReceived prometheus.Counter
	FramesDropped  *prometheus.CounterVec

	AbandonedRuns prometheus.Counter
}

// NewMetrics creates and registers every metric with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Use prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *Metrics: The initialized metrics.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "started_total",
				Help:      "Total sessions accepted by bridge mode and wire protocol",
			},
			[]string{"mode", "protocol"},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "closed_total",
				Help:      "Total sessions closed by final state",
			},
			[]string{"final_state"},
		),
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "active",
				Help:      "Number of currently open sessions",
			},
			[]string{"mode"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "duration_seconds",
				Help:      "Session lifetime in seconds",
				Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900},
			},
			[]string{"final_state"},
		),
		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: transportSubsytem,
				Name:      "frames_sent_total",
				Help:      "Total frames written to clients by kind",
			},
			[]string{"kind"},
		),
		FramesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: transportSubsytem,
				Name:      "frames_received_total",
				Help:      "Total frames read from clients",
			},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: transportSubsytem,
				Name:      "frames_dropped_total",
				Help:      "Total client frames discarded by reason",
			},
			[]string{"reason"},
		),
		AbandonedRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "abandoned_runs_total",
				Help:      "Workflow runs that did not stop within the shutdown grace",
			},
		),
	}
}

// =============================================================================
// Session Methods
// =============================================================================

// SessionStarted records an accepted session.
func (m *Metrics) SessionStarted(mode, protocol string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode, protocol).Inc()
	m.ActiveSessions.WithLabelValues(mode).Inc()
}

// SessionClosed records a torn-down session.
//
// # Inputs
//
//   - mode: Same label passed to SessionStarted.
//   - finalState: The last state before Closed (COMPLETED, FAILED, ...).
//   - lifetime: Time since the session was accepted.
func (m *Metrics) SessionClosed(mode, finalState string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(mode).Dec()
	m.SessionsClosed.WithLabelValues(finalState).Inc()
	m.SessionDuration.WithLabelValues(finalState).Observe(lifetime.Seconds())
}

// RunAbandoned records a run left behind after the shutdown grace.
func (m *Metrics) RunAbandoned() {
	if m == nil {
		return
	}
	m.AbandonedRuns.Inc()
}

// =============================================================================
// Transport Methods
// =============================================================================

// FrameSent records one frame written to a client.
func (m *Metrics) FrameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

// FrameReceived records one frame read from a client.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

// FrameDropped records one discarded client frame.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}
