// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

// ============================================================================
// Session Tests
// ============================================================================

func TestMetrics_SessionLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SessionStarted("cooperative", "text")
	m.SessionStarted("cooperative", "json")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("cooperative", "text")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions.WithLabelValues("cooperative")))

	m.SessionClosed("cooperative", "COMPLETED", 2*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions.WithLabelValues("cooperative")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionDuration))

	m.RunAbandoned()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AbandonedRuns))
}

// ============================================================================
// Transport Tests
// ============================================================================

func TestMetrics_Frames(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.FrameSent("prompt")
	m.FrameSent("prompt")
	m.FrameSent("notification")
	m.FrameReceived()
	m.FrameDropped("stale")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("stale")))
}

func TestMetrics_RegisteredNames(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SessionStarted("threaded", "text")
	m.FrameReceived()

	families, err := reg.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["calcflow_session_started_total"])
	assert.True(t, names["calcflow_session_active"])
	assert.True(t, names["calcflow_transport_frames_received_total"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("cooperative", "text")
		m.SessionClosed("cooperative", "FAILED", time.Second)
		m.RunAbandoned()
		m.FrameSent("prompt")
		m.FrameReceived()
		m.FrameDropped("malformed")
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
