// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session supervises the lifecycle of one workflow run per client
// connection.
//
// # Description
//
// Supervisor.Serve binds a connection to a fresh bridge.Channel, starts the
// workflow against it and pumps the channel through a transport.Adapter. When
// either side stops, the session is classified (COMPLETED, FAILED or
// DISCONNECTED) and torn down to CLOSED exactly once.
//
// # Failure Semantics
//
//   - A workflow error other than a disconnect is sent to the client as one
//     final "[flow error] <err>" notification.
//   - On disconnect the channel is closed, which releases a blocked
//     Request. The supervisor waits at most ShutdownGrace for the run to
//     return and then abandons it.
//   - A failing session never affects other sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/AleutianAI/AleutianFlow/services/flow"
	"github.com/AleutianAI/AleutianFlow/services/gateway/observability"
	"github.com/AleutianAI/AleutianFlow/services/gateway/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AleutianAI/AleutianFlow/services/gateway/session"

// DefaultShutdownGrace bounds how long a disconnected session waits for its
// run to stop.
const DefaultShutdownGrace = time.Second

// FlowErrorPrefix starts the notification sent when a run fails.
const FlowErrorPrefix = "[flow error] "

// ErrShuttingDown is returned by Serve after Shutdown has been called.
var ErrShuttingDown = errors.New("session: supervisor is shutting down")

// Workflow is one runnable conversation. calculator.Workflow implements it.
type Workflow interface {
	Name() string
	Run(ctx context.Context, conv bridge.Conversation) error
}

// Config configures a Supervisor.
type Config struct {
	// Workflow is run once per session. Required.
	Workflow Workflow

	// ShutdownGrace overrides DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// Strict makes channel contract violations panic.
	Strict bool

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Options are per-session settings, usually derived from the upgrade request.
type Options struct {
	Mode       bridge.Mode
	Protocol   wire.Protocol
	RemoteAddr string

	// Transport tunes the adapter. Codec, Logger and Recorder are set by the
	// supervisor.
	Transport transport.Options
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	FinalState State      `json:"final_state,omitempty"`
	Mode       string     `json:"mode"`
	Protocol   string     `json:"protocol"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Abandoned  bool       `json:"abandoned,omitempty"`
	Sent       int64      `json:"frames_sent"`
	Received   int64      `json:"frames_received"`
}

// Session is one client connection bound to one workflow run.
type Session struct {
	id         string
	mode       bridge.Mode
	protocol   wire.Protocol
	remoteAddr string
	startedAt  time.Time

	channel *bridge.Channel

	mu        sync.Mutex
	state     State
	final     State
	err       error
	endedAt   time.Time
	abandoned bool
	sent      int64
	received  int64

	closeOnce sync.Once
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.state, to); err != nil {
		return err
	}
	if to == StateClosed {
		s.final = s.state
		s.endedAt = time.Now()
	}
	s.state = to
	return nil
}

// Snapshot returns a copy of the session's public state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.id,
		State:      s.state,
		Mode:       s.mode.String(),
		Protocol:   string(s.protocol),
		RemoteAddr: s.remoteAddr,
		StartedAt:  s.startedAt,
		Abandoned:  s.abandoned,
		Sent:       s.sent,
		Received:   s.received,
	}
	if s.state == StateClosed {
		snap.FinalState = s.final
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// =============================================================================
// Supervisor
// =============================================================================

// Supervisor runs sessions and keeps a registry of the live ones.
//
// Safe for concurrent use; each Serve call owns one session.
type Supervisor struct {
	cfg    Config
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]*Session
	changed  chan struct{}
	closing  bool
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Workflow == nil {
		return nil, errors.New("session: workflow is required")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[string]*Session),
		changed:  make(chan struct{}),
	}, nil
}

// Serve runs one session over conn and blocks until it is CLOSED.
//
// # Description
//
// Serve owns conn: it is closed before Serve returns, whatever the outcome.
//
// # Inputs
//
//   - ctx: Cancelling it stops the session (classified DISCONNECTED if the
//     run had not finished).
//   - conn: An upgraded websocket connection.
//   - opts: Mode, protocol and transport tuning.
//
// # Outputs
//
//   - Snapshot: The final view of the session.
//   - error: ErrShuttingDown, or a bad protocol. Workflow failures are not
//     returned here; they are visible in Snapshot.FinalState and Error.
func (sv *Supervisor) Serve(ctx context.Context, conn transport.Conn, opts Options) (Snapshot, error) {
	codec, err := wire.NewCodec(opts.Protocol)
	if err != nil {
		_ = conn.Close()
		return Snapshot{}, err
	}

	s := &Session{
		id:         uuid.New().String(),
		mode:       opts.Mode,
		protocol:   codec.Protocol(),
		remoteAddr: opts.RemoteAddr,
		startedAt:  time.Now(),
		state:      StateConnecting,
	}
	logger := sv.cfg.Logger.With(
		"session_id", s.id,
		"mode", s.mode.String(),
		"protocol", string(s.protocol),
	)
	s.channel = bridge.New(s.mode, bridge.Options{Strict: sv.cfg.Strict, Logger: logger})
	if err := sv.register(s); err != nil {
		_ = conn.Close()
		return Snapshot{}, err
	}

	ctx, span := sv.tracer.Start(ctx, "session", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.mode", s.mode.String()),
		attribute.String("session.protocol", string(s.protocol)),
		attribute.String("flow.name", sv.cfg.Workflow.Name()),
	))

	sv.cfg.Metrics.SessionStarted(s.mode.String(), string(s.protocol))
	logger.Info("Session started", "remote_addr", s.remoteAddr)

	if err := s.transition(StateRunning); err != nil {
		// Unreachable with a fresh session, kept so a bad table is loud.
		logger.Error("Failed to start session", "error", err)
	}

	runCtx, cancelRun := context.WithCancel(flow.ContextWithLogger(ctx, logger))
	defer cancelRun()
	runDone := sv.startRun(runCtx, s, logger)

	topts := opts.Transport
	topts.Codec = codec
	topts.Logger = logger
	if sv.cfg.Metrics != nil {
		topts.Recorder = sv.cfg.Metrics
	}
	res := transport.New(conn, s.channel, topts).Run(ctx)

	s.mu.Lock()
	s.sent, s.received = res.Sent, res.Received
	s.mu.Unlock()

	sv.settle(s, res, runDone, logger)
	sv.close(s, conn, span, logger)
	return s.Snapshot(), nil
}

type runOutcome struct {
	err error
}

// startRun executes the workflow on its own goroutine. In ModeThreaded the
// goroutine is pinned to an OS thread so blocking workflow code never shares
// a thread with the transport.
func (sv *Supervisor) startRun(ctx context.Context, s *Session, logger *slog.Logger) <-chan runOutcome {
	done := make(chan runOutcome, 1)
	go func() {
		if s.mode == bridge.ModeThreaded {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}

		err := sv.runWorkflow(ctx, s.channel)
		if err != nil && !isDisconnect(err) {
			logger.Error("Workflow run failed", "error", err)
			if nerr := s.channel.Notify(ctx, FlowErrorPrefix+err.Error()); nerr != nil {
				logger.Debug("Could not deliver flow error", "error", nerr)
			}
		}
		s.channel.Finish()
		done <- runOutcome{err: err}
	}()
	return done
}

func (sv *Supervisor) runWorkflow(ctx context.Context, conv bridge.Conversation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panicked: %v", r)
		}
	}()
	return sv.cfg.Workflow.Run(ctx, conv)
}

func isDisconnect(err error) bool {
	return errors.Is(err, bridge.ErrClosed) || errors.Is(err, context.Canceled)
}

// settle decides COMPLETED, FAILED or DISCONNECTED once the adapter stopped.
//
// Only a drained transport can produce COMPLETED or FAILED. If the transport
// stopped for any other reason the session is DISCONNECTED, even when the run
// already returned or returns nil within the grace period: some of its output
// never reached the peer. A run error is still kept on the session.
func (sv *Supervisor) settle(s *Session, res transport.Result, runDone <-chan runOutcome, logger *slog.Logger) {
	if res.Reason != transport.ReasonDrained {
		s.channel.Close()
		logger.Info("Transport stopped before the flow drained", "reason", string(res.Reason), "error", res.Err)
		sv.awaitRun(s, runDone, logger)
		sv.setState(s, StateDisconnected, logger)
		return
	}

	// Drained implies Finish was called; the outcome is already on its way.
	out := <-runDone
	switch {
	case out.err == nil:
		sv.setState(s, StateCompleted, logger)
	case isDisconnect(out.err):
		sv.setState(s, StateDisconnected, logger)
	default:
		s.mu.Lock()
		s.err = out.err
		s.mu.Unlock()
		sv.setState(s, StateFailed, logger)
	}
}

func (sv *Supervisor) awaitRun(s *Session, runDone <-chan runOutcome, logger *slog.Logger) {
	timer := time.NewTimer(sv.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case out := <-runDone:
		if out.err != nil && !isDisconnect(out.err) {
			s.mu.Lock()
			s.err = out.err
			s.mu.Unlock()
		}
	case <-timer.C:
		s.mu.Lock()
		s.abandoned = true
		s.mu.Unlock()
		sv.cfg.Metrics.RunAbandoned()
		logger.Warn("Abandoning workflow run that ignored close", "grace", sv.cfg.ShutdownGrace)
	}
}

func (sv *Supervisor) setState(s *Session, to State, logger *slog.Logger) {
	if err := s.transition(to); err != nil {
		logger.Error("Session state change rejected", "error", err)
	}
}

// close moves the session to CLOSED and releases everything it holds.
func (sv *Supervisor) close(s *Session, conn transport.Conn, span trace.Span, logger *slog.Logger) {
	s.closeOnce.Do(func() {
		_ = conn.Close()
		s.channel.Close()
		sv.setState(s, StateClosed, logger)
		sv.deregister(s)

		snap := s.Snapshot()
		sv.cfg.Metrics.SessionClosed(snap.Mode, snap.FinalState.String(), time.Since(s.startedAt))

		span.SetAttributes(attribute.String("session.final_state", snap.FinalState.String()))
		if snap.FinalState == StateFailed {
			span.SetStatus(codes.Error, snap.Error)
		}
		span.End()

		logger.Info("Session closed",
			"final_state", snap.FinalState.String(),
			"duration", time.Since(s.startedAt),
			"frames_sent", snap.Sent,
			"frames_received", snap.Received,
			"abandoned", snap.Abandoned,
		)
	})
}

// =============================================================================
// Registry
// =============================================================================

func (sv *Supervisor) register(s *Session) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.closing {
		return ErrShuttingDown
	}
	sv.sessions[s.id] = s
	return nil
}

func (sv *Supervisor) deregister(s *Session) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.sessions, s.id)
	close(sv.changed)
	sv.changed = make(chan struct{})
}

// Sessions returns snapshots of every live session, oldest first.
func (sv *Supervisor) Sessions() []Snapshot {
	sv.mu.Lock()
	live := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		live = append(live, s)
	}
	sv.mu.Unlock()

	out := make([]Snapshot, 0, len(live))
	for _, s := range live {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (sv *Supervisor) Len() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// Shutdown refuses new sessions, closes the channel of every live session and
// waits until all of them are CLOSED or ctx is done.
func (sv *Supervisor) Shutdown(ctx context.Context) error {
	sv.mu.Lock()
	sv.closing = true
	for _, s := range sv.sessions {
		if s.channel != nil {
			s.channel.Close()
		}
	}
	sv.mu.Unlock()

	for {
		sv.mu.Lock()
		n := len(sv.sessions)
		changed := sv.changed
		sv.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("session: %d sessions still open: %w", n, ctx.Err())
		}
	}
}
