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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAddr         = "CALCFLOW_ADDR"
	EnvLogLevel     = "CALCFLOW_LOG_LEVEL"
	EnvMode         = "CALCFLOW_MODE"
	EnvProtocol     = "CALCFLOW_PROTOCOL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

var validate = validator.New()

// DefaultPath returns ~/.calcflow/calcflow.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".calcflow", "calcflow.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run,
// then applies environment overrides and validates the result.
func Load(path string) (CalcflowConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return CalcflowConfig{}, err
		}
	}
	return Read(path, os.Getenv)
}

// Read parses and validates the config at path without creating it. getenv
// supplies overrides; pass nil to ignore the environment.
func Read(path string, getenv func(string) string) (CalcflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CalcflowConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	return Parse(data, getenv)
}

// Parse decodes data over DefaultConfig, so missing keys keep their defaults.
func Parse(data []byte, getenv func(string) string) (CalcflowConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CalcflowConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if getenv != nil {
		applyEnv(&cfg, getenv)
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return CalcflowConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func Validate(cfg CalcflowConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *CalcflowConfig, getenv func(string) string) {
	if v := getenv(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv(EnvMode); v != "" {
		cfg.Session.Mode = v
	}
	if v := getenv(EnvProtocol); v != "" {
		cfg.Session.Protocol = v
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
}

func normalize(cfg *CalcflowConfig) {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	cfg.Session.Mode = lower(cfg.Session.Mode)
	cfg.Session.Protocol = lower(cfg.Session.Protocol)
	cfg.Observability.TraceExporter = lower(cfg.Observability.TraceExporter)
	cfg.Logging.Level = lower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
