// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the calcflow HTTP service.
//
// # Description
//
// The gateway serves the calculator workflow to websocket clients. Each
// connection to /calc becomes one session: a fresh bridge channel, one
// workflow run and one transport adapter, supervised by session.Supervisor.
//
// # Routes
//
//   - GET /            Browser client page
//   - GET /calc        Websocket upgrade (?mode=cooperative|threaded, ?protocol=text|json)
//   - GET /v1/sessions Live session snapshots
//   - GET /health      Liveness
//   - GET /metrics     Prometheus exposition (unless disabled)
//
// # Usage
//
//	svc, err := gateway.New(gateway.Config{Addr: ":8000"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/AleutianAI/AleutianFlow/services/calculator"
	"github.com/AleutianAI/AleutianFlow/services/gateway/handlers"
	"github.com/AleutianAI/AleutianFlow/services/gateway/observability"
	"github.com/AleutianAI/AleutianFlow/services/gateway/routes"
	"github.com/AleutianAI/AleutianFlow/services/gateway/session"
	"github.com/AleutianAI/AleutianFlow/services/gateway/telemetry"
	"github.com/AleutianAI/AleutianFlow/services/gateway/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the gateway in traces and metrics.
const ServiceName = "calcflow-gateway"

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable gateway.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
	// down gracefully.
	Run(ctx context.Context) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine

	// Supervisor returns the session supervisor.
	Supervisor() *session.Supervisor
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the gateway. Zero values use defaults.
type Config struct {
	// Addr is the listen address. Default: ":8000"
	Addr string

	// Debug enables strict bridge channels and gin debug mode.
	Debug bool

	// GinMode overrides the gin mode derived from Debug.
	// Valid values: "debug", "release", "test"
	GinMode string

	// AllowedOrigins lists browser origins allowed on /calc.
	// Default: same host only
	AllowedOrigins []string

	// Mode is the default bridge variant. Default: cooperative
	Mode bridge.Mode

	// Protocol is the default wire protocol. Default: text
	Protocol wire.Protocol

	// PingInterval, PongWait and WriteTimeout tune websocket keepalive.
	// Defaults: 30s, 60s, 10s
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration

	// ShutdownGrace bounds the wait for a disconnected run. Default: 1s
	ShutdownGrace time.Duration

	// DrainTimeout bounds graceful shutdown of the HTTP server and live
	// sessions. Default: 10s
	DrainTimeout time.Duration

	// InboxSize, InboundRate and InboundBurst tune inbound buffering and rate
	// limiting. Defaults: 16, 20/s, 40
	InboxSize    int
	InboundRate  float64
	InboundBurst int

	// MaxFrameSize caps an inbound websocket frame in bytes. Default: 4096
	MaxFrameSize int64

	// DisableMetrics turns off /metrics and metric collection.
	DisableMetrics bool

	// TraceExporter is one of "none", "stdout", "otlp". Default: "none"
	TraceExporter string

	// OTLPEndpoint is the OpenTelemetry collector endpoint for "otlp".
	OTLPEndpoint string

	// Version is reported in traces.
	Version string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New returns.
type service struct {
	config     Config
	router     *gin.Engine
	supervisor *session.Supervisor
	registry   *prometheus.Registry
	metrics    *observability.Metrics
	tracerDown telemetry.Shutdown
	logger     *slog.Logger
}

// New creates a gateway Service.
//
// # Description
//
// New initializes, in order:
//  1. Configuration defaults
//  2. OpenTelemetry tracing
//  3. Prometheus metrics (unless disabled)
//  4. The session supervisor with the calculator workflow
//  5. HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if tracing or the supervisor cannot be initialized.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger

	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    ServiceName,
		ServiceVersion: s.config.Version,
		Exporter:       s.config.TraceExporter,
		OTLPEndpoint:   s.config.OTLPEndpoint,
		Writer:         os.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerDown = shutdown

	if !s.config.DisableMetrics {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = observability.NewMetrics(s.registry)
	}

	s.supervisor, err = session.NewSupervisor(session.Config{
		Workflow:      calculator.MustNewWorkflow(),
		ShutdownGrace: s.config.ShutdownGrace,
		Strict:        s.config.Debug,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize supervisor: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run listens on Config.Addr and serves until ctx is cancelled.
//
// # Description
//
// On cancellation the HTTP server stops accepting, live sessions are closed
// (clients see a going-away close frame) and Run waits up to DrainTimeout for
// them. Tracing is flushed before Run returns.
//
// # Outputs
//
//   - error: nil after a clean shutdown, otherwise the listen or drain error.
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *service) serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting calcflow gateway", "addr", ln.Addr().String(),
			"mode", s.config.Mode.String(), "protocol", string(s.config.Protocol))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down calcflow gateway", "live_sessions", s.supervisor.Len())
	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server, so
	// sessions are drained separately.
	httpErr := srv.Shutdown(drainCtx)
	sessErr := s.supervisor.Shutdown(drainCtx)
	return errors.Join(httpErr, sessErr)
}

// Router returns the configured gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Supervisor returns the session supervisor.
func (s *service) Supervisor() *session.Supervisor {
	return s.supervisor
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = wire.ProtocolText
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = transport.DefaultPingInterval
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = transport.DefaultPongWait
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = transport.DefaultWriteTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = session.DefaultShutdownGrace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = transport.DefaultInboxSize
	}
	if cfg.InboundRate == 0 {
		cfg.InboundRate = transport.DefaultInboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = transport.DefaultInboundBurst
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = transport.DefaultMaxFrameSize
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = telemetry.ExporterNone
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (s *service) initRouter() {
	switch {
	case s.config.GinMode != "":
		gin.SetMode(s.config.GinMode)
	case s.config.Debug:
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(ServiceName))

	var metricsHandler http.Handler
	if s.registry != nil {
		metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	}

	routes.SetupRoutes(s.router, s.supervisor, handlers.SocketConfig{
		Mode:           s.config.Mode,
		Protocol:       s.config.Protocol,
		AllowedOrigins: s.config.AllowedOrigins,
		Transport: transport.Options{
			PingInterval: s.config.PingInterval,
			PongWait:     s.config.PongWait,
			WriteTimeout: s.config.WriteTimeout,
			InboxSize:    s.config.InboxSize,
			InboundRate:  s.config.InboundRate,
			InboundBurst: s.config.InboundBurst,
			MaxFrameSize: s.config.MaxFrameSize,
		},
	}, metricsHandler)
}

// cleanup flushes tracing. Safe to call more than once.
func (s *service) cleanup() {
	if s.tracerDown == nil {
		return
	}
	if err := s.tracerDown(context.Background()); err != nil {
		s.logger.Warn("Tracer shutdown error", "error", err)
	}
	s.tracerDown = nil
}
