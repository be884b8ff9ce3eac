// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{"INFO", LevelInfo},
		{" warning ", LevelWarn},
		{"warn", LevelWarn},
		{"Error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesTextWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Info("session started", "session_id", "abc")
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "session_id=abc")
	assert.Contains(t, out, "service="+DefaultService)
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, JSON: true, Service: "gateway"})
	l.Warn("slow client", "inbox", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "slow client", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "gateway", rec["service"])
	assert.EqualValues(t, 3, rec["inbox"])
}

func TestNew_QuietWithoutDestinations(t *testing.T) {
	l := New(Config{Quiet: true})
	assert.NotPanics(t, func() { l.Error("dropped") })
	assert.NoError(t, l.Close())
}

func TestLogger_SetLevelAffectsChildren(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})
	child := l.With("session_id", "s1")

	child.Info("before")
	assert.Empty(t, buf.String())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, child.Level())
	child.Debug("after")
	assert.Contains(t, buf.String(), "after")
	assert.Contains(t, buf.String(), "session_id=s1")
}

func TestLogger_Install(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l.Install()

	slog.Info("through default", "k", "v")
	assert.Contains(t, buf.String(), "through default")
	assert.Same(t, l.Slog(), slog.Default())
}

// =============================================================================
// File Tests
// =============================================================================

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Level: LevelInfo, Quiet: true, LogDir: dir, Service: "calc"})
	l.Info("to file", "n", 1)
	require.NoError(t, l.Close())

	name := "calc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to file", rec["msg"])
	assert.Equal(t, "calc", rec["service"])
}

func TestNew_UnwritableLogDirIsIgnored(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, LogDir: filepath.Join(file, "logs")})
	l.Info("still logs")
	assert.Contains(t, buf.String(), "still logs")
	assert.NoError(t, l.Close())
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	l := New(Config{Quiet: true, LogDir: t.TempDir()})
	child := l.With("k", "v")
	require.NoError(t, l.Close())
	assert.NoError(t, child.Close())
	assert.NoError(t, l.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}

// =============================================================================
// Fan-out Tests
// =============================================================================

func TestLogger_ConsoleAndFileReceiveConcurrentEntries(t *testing.T) {
	dir := t.TempDir()
	var buf syncBuffer
	l := New(Config{Level: LevelInfo, Output: &buf, LogDir: dir, Service: "gateway"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With("session_id", "s1").Info("tick")
		}()
	}
	wg.Wait()
	l.Debug("filtered")
	require.NoError(t, l.Close())

	assert.Equal(t, 20, strings.Count(buf.String(), "msg=tick"))
	assert.NotContains(t, buf.String(), "filtered")

	matches, err := filepath.Glob(filepath.Join(dir, "gateway_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(string(data), `"session_id":"s1"`))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
