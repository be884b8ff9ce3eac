// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for calcflow processes.
//
// # Architecture
//
// A Logger is a slog.Logger fanned out to up to two destinations:
//
//	┌──────────────────────────────────┐
//	│              Logger              │
//	│  ┌────────────┐  ┌────────────┐  │
//	│  │ console    │  │ log file   │  │
//	│  │ (text/json)│  │ (json,opt.)│  │
//	│  └────────────┘  └────────────┘  │
//	└──────────────────────────────────┘
//
// All destinations share one slog.LevelVar, so SetLevel changes the threshold
// of every derived logger at once. The config watcher uses this to apply a new
// log level without a restart.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "calcflow"})
//	defer logger.Close()
//	logger.Install() // route slog.Default() through this logger
//	slog.Info("session started", "session_id", id)
//
// # File Logging
//
// With LogDir set, entries are also written as JSON to
// {LogDir}/{service}_{YYYY-MM-DD}.log. A leading "~" is expanded. A directory
// that cannot be created disables file output without failing New.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultService is used when Config.Service is empty.
const DefaultService = "calcflow"

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// ParseLevel accepts debug, info, warn/warning and error in any case. The
// empty string is LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the initial minimum level. Default: LevelDebug (zero value).
	Level Level

	// LogDir enables JSON file output when non-empty.
	LogDir string

	// Service is attached to every entry as "service".
	Service string

	// JSON switches console output from text to JSON.
	JSON bool

	// Quiet disables console output.
	Quiet bool

	// Output replaces os.Stderr as the console destination.
	Output io.Writer
}

// Logger is a leveled, multi-destination structured logger.
type Logger struct {
	slog    *slog.Logger
	level   *slog.LevelVar
	service string
	res     *resources
}

// resources are shared by a Logger and every child created with With.
type resources struct {
	mu   sync.Mutex
	file *os.File
}

// New builds a Logger from config.
//
// # Inputs
//
//   - config: Destinations and initial level.
//
// # Outputs
//
//   - *Logger: Ready to use. Call Close to sync and close the log file.
func New(config Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(config.Level.slogLevel())
	opts := &slog.HandlerOptions{Level: level}

	service := config.Service
	if service == "" {
		service = DefaultService
	}

	l := &Logger{
		level:   level,
		service: service,
		res:     &resources{},
	}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}
	if config.LogDir != "" {
		if f, err := openLogFile(config.LogDir, service, time.Now()); err == nil {
			l.res.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}
	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", service)})

	l.slog = slog.New(handler)
	return l
}

// Default returns an info-level stderr logger.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

func openLogFile(dir, service string, now time.Time) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%s.log", service, now.Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying args. The child shares the parent's
// level and file.
func (l *Logger) With(args ...any) *Logger {
	child := *l
	child.slog = l.slog.With(args...)
	return &child
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Install makes this logger the process-wide slog default.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// SetLevel changes the minimum level of this logger and every logger derived
// from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return levelFromSlog(l.level.Level())
}

// Close syncs and closes the log file.
// Closing any logger in a With family closes the shared resources. Safe to
// call more than once.
func (l *Logger) Close() error {
	r := l.res
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		r.file = nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// Handlers
// =============================================================================

// multiHandler forwards each record to every enabled child handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
