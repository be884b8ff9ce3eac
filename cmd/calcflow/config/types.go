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

import "time"

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type CalcflowConfig struct {
	// Meta: file format version
	Meta MetaConfig `yaml:"meta"`

	// Server: listen address and browser policy
	Server ServerConfig `yaml:"server"`

	// Session: bridge variant, wire protocol and teardown bound
	Session SessionConfig `yaml:"session"`

	// Transport: websocket keepalive, buffering and rate limits
	Transport TransportConfig `yaml:"transport"`

	// Observability: metrics and tracing
	Observability ObservabilityConfig `yaml:"observability"`

	// Logging: level, file output and format
	Logging LoggingConfig `yaml:"logging"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" validate:"required,hostname_port"` // e.g. ":8000"
	Debug          bool     `yaml:"debug"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" validate:"dive,required"` // "*" allows any origin
}

type SessionConfig struct {
	Mode          string        `yaml:"mode" validate:"oneof=cooperative threaded"`
	Protocol      string        `yaml:"protocol" validate:"oneof=text json"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
}

type TransportConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" validate:"gte=0"`
	PongWait     time.Duration `yaml:"pong_wait" validate:"gtefield=PingInterval"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	InboxSize    int           `yaml:"inbox_size" validate:"gte=1,lte=1024"`
	InboundRate  float64       `yaml:"inbound_rate" validate:"gte=0"`                // frames/s, 0 uses the default
	InboundBurst int           `yaml:"inbound_burst" validate:"gte=1"`               // frames
	MaxFrameSize int64         `yaml:"max_frame_size" validate:"gte=64,lte=1048576"` // bytes
}

type ObservabilityConfig struct {
	Metrics       bool   `yaml:"metrics"`
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() CalcflowConfig {
	return CalcflowConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Session: SessionConfig{
			Mode:          "cooperative",
			Protocol:      "text",
			ShutdownGrace: time.Second,
		},
		Transport: TransportConfig{
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			WriteTimeout: 10 * time.Second,
			InboxSize:    16,
			InboundRate:  20,
			InboundBurst: 40,
			MaxFrameSize: 4096,
		},
		Observability: ObservabilityConfig{
			Metrics:       true,
			TraceExporter: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.calcflow/logs",
		},
	}
}
