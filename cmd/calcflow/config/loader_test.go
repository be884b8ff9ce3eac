// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func noEnv(string) string { return "" }

func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".calcflow", "calcflow.yaml")

	require.NoError(t, createDefault(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var cfg CalcflowConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Contains(t, string(data), "shutdown_grace: 1s")
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "calcflow.yaml")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.FileExists(t, configPath)
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("session:\n  mode: THREADED\n"), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "threaded", cfg.Session.Mode)
	assert.Equal(t, "text", cfg.Session.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, 16, cfg.Transport.InboxSize)
	assert.Equal(t, int64(4096), cfg.Transport.MaxFrameSize)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	env := map[string]string{
		EnvAddr:         "127.0.0.1:9100",
		EnvLogLevel:     "Warning",
		EnvMode:         "threaded",
		EnvProtocol:     "json",
		EnvOTLPEndpoint: "collector:4317",
	}
	cfg, err := Parse([]byte("observability:\n  trace_exporter: otlp\n"), func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "threaded", cfg.Session.Mode)
	assert.Equal(t, "json", cfg.Session.Protocol)
	assert.Equal(t, "collector:4317", cfg.Observability.OTLPEndpoint)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", "session:\n  mode: fibers\n", "Session.Mode"},
		{"bad protocol", "session:\n  protocol: xml\n", "Session.Protocol"},
		{"bad addr", "server:\n  addr: nope\n", "Server.Addr"},
		{"otlp without endpoint", "observability:\n  trace_exporter: otlp\n", "OTLPEndpoint"},
		{"pong shorter than ping", "transport:\n  ping_interval: 30s\n  pong_wait: 5s\n", "PongWait"},
		{"empty inbox", "transport:\n  inbox_size: 0\n", "InboxSize"},
		{"tiny frame cap", "transport:\n  max_frame_size: 8\n", "MaxFrameSize"},
		{"bad level", "logging:\n  level: loud\n", "Logging.Level"},
		{"empty origin", "server:\n  allowed_origins: [\"\"]\n", "AllowedOrigins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), noEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"), noEnv)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "calcflow.yaml")
	require.NoError(t, createDefault(configPath))

	reloaded := make(chan CalcflowConfig, 4)
	w, err := NewWatcher(configPath, noEnv, func(cfg CalcflowConfig) { reloaded <- cfg }, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// An invalid write is skipped.
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: loud\n"), 0644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			assert.NotEqual(t, "loud", cfg.Logging.Level)
			if cfg.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			require.FailNow(t, "config was not reloaded")
		}
	}
}
