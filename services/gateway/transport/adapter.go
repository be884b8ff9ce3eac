// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport moves bridge envelopes over a websocket connection.
//
// # Description
//
// An Adapter owns one connection for one session and runs three goroutines
// under an errgroup:
//
//	reader ──► inbox ──► pump ──► Link.DeliverAnswer
//	                      ▲
//	Link.Next ────────────┘──► WriteMessage
//	pinger ──► WriteControl(ping)
//
// The reader is the only caller of ReadMessage and the pump is the only caller
// of WriteMessage. Whichever goroutine fails first cancels the others; the
// connection is closed once all of them have stopped.
//
// Any loss of the peer closes the Link, which releases a step blocked in
// Request with the sentinel answer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Defaults applied by New to zero-valued Options.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultInboxSize    = 16
	DefaultInboundRate  = 20
	DefaultInboundBurst = 40
	DefaultMaxFrameSize = 4096
)

// Conn is the subset of *websocket.Conn the Adapter uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Reason explains why an Adapter stopped.
type Reason string

const (
	// ReasonDrained means the engine finished and every envelope was sent.
	ReasonDrained Reason = "drained"

	// ReasonPeerGone means the connection failed or the client left.
	ReasonPeerGone Reason = "peer_gone"

	// ReasonCancelled means the context was cancelled or the Link was closed
	// from outside.
	ReasonCancelled Reason = "cancelled"
)

// Drop reasons reported to the Recorder.
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropStale       = "stale"
	DropInboxFull   = "inbox_full"
	DropUnsupported = "unsupported"
	DropOversize    = "oversize"
)

// Result summarizes a finished Adapter run.
type Result struct {
	Reason   Reason
	Err      error
	Sent     int64
	Received int64
	Dropped  int64
}

// Recorder receives per-frame events. observability.Metrics implements it.
type Recorder interface {
	FrameSent(kind string)
	FrameReceived()
	FrameDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(string)    {}
func (nopRecorder) FrameReceived()      {}
func (nopRecorder) FrameDropped(string) {}

// Options tunes an Adapter.
type Options struct {
	// Codec encodes envelopes and decodes client frames. Default: wire.TextCodec.
	Codec wire.Codec

	// PingInterval is the keepalive period. Negative disables pings.
	PingInterval time.Duration

	// PongWait is how long the connection may stay silent before it is
	// considered dead. Negative disables the read deadline.
	PongWait time.Duration

	// WriteTimeout bounds every write.
	WriteTimeout time.Duration

	// InboxSize is the number of decoded client frames buffered ahead of the
	// prompts that consume them.
	InboxSize int

	// InboundRate and InboundBurst limit client frames per second. A negative
	// rate disables limiting.
	InboundRate  float64
	InboundBurst int

	// MaxFrameSize caps an inbound frame in bytes. A larger frame is counted
	// as dropped and fails the connection.
	MaxFrameSize int64

	Logger   *slog.Logger
	Recorder Recorder
}

func (o *Options) applyDefaults() {
	if o.Codec == nil {
		o.Codec = wire.TextCodec{}
	}
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongWait == 0 {
		o.PongWait = DefaultPongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.InboundRate == 0 {
		o.InboundRate = DefaultInboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = DefaultInboundBurst
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
}

var (
	errDrained    = errors.New("transport: drained")
	errPeerGone   = errors.New("transport: peer gone")
	errLinkClosed = errors.New("transport: link closed")
)

// Adapter connects one bridge.Link to one Conn.
type Adapter struct {
	conn    Conn
	link    bridge.Link
	opts    Options
	limiter *rate.Limiter
	inbox   chan wire.Reply

	sent, received, dropped atomic.Int64

	goneMu sync.Mutex
	gone   error

	closeConnOnce sync.Once
}

// New creates an Adapter. Call Run exactly once.
func New(conn Conn, link bridge.Link, opts Options) *Adapter {
	opts.applyDefaults()
	limit := rate.Limit(opts.InboundRate)
	if opts.InboundRate < 0 {
		limit = rate.Inf
	}
	return &Adapter{
		conn:    conn,
		link:    link,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.InboundBurst),
		inbox:   make(chan wire.Reply, opts.InboxSize),
	}
}

// Run pumps envelopes until the Link drains, the peer goes away, or ctx is
// cancelled. The connection is closed when Run returns.
//
// # Outputs
//
//   - Result: Why the adapter stopped, with frame counters. Err carries the
//     underlying connection error for ReasonPeerGone.
func (a *Adapter) Run(ctx context.Context) Result {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.readLoop(gctx) })
	g.Go(func() error { return a.pingLoop(gctx) })
	g.Go(func() error { return a.pumpLoop(gctx) })
	g.Go(func() error {
		// ReadMessage has no context; closing the connection is what stops it.
		<-gctx.Done()
		a.closeConn()
		return nil
	})

	err := g.Wait()
	a.closeConn()

	res := Result{
		Err:      err,
		Sent:     a.sent.Load(),
		Received: a.received.Load(),
		Dropped:  a.dropped.Load(),
	}
	a.goneMu.Lock()
	gone := a.gone
	a.goneMu.Unlock()

	switch {
	case errors.Is(err, errDrained):
		res.Reason = ReasonDrained
		res.Err = nil
	case gone != nil:
		res.Reason = ReasonPeerGone
		res.Err = gone
	default:
		res.Reason = ReasonCancelled
	}
	if res.Reason != ReasonDrained {
		a.link.Close()
	}
	return res
}

func (a *Adapter) closeConn() {
	a.closeConnOnce.Do(func() {
		_ = a.conn.Close()
	})
}

// peerGone records the first connection failure and closes the Link at once,
// so a pending Request is released before the other goroutines stop.
func (a *Adapter) peerGone(err error) error {
	wrapped := fmt.Errorf("%w: %w", errPeerGone, err)
	a.goneMu.Lock()
	if a.gone == nil {
		a.gone = wrapped
	}
	a.goneMu.Unlock()
	a.link.Close()
	return wrapped
}

// =============================================================================
// Reader
// =============================================================================

func (a *Adapter) extendReadDeadline() {
	if a.opts.PongWait > 0 {
		_ = a.conn.SetReadDeadline(time.Now().Add(a.opts.PongWait))
	}
}

func (a *Adapter) readLoop(ctx context.Context) error {
	a.conn.SetReadLimit(a.opts.MaxFrameSize)
	a.extendReadDeadline()
	a.conn.SetPongHandler(func(string) error {
		a.extendReadDeadline()
		return nil
	})

	for {
		msgType, payload, err := a.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				// The websocket library has already sent 1009 and will not
				// read again.
				a.drop(DropOversize, "max_frame_size", a.opts.MaxFrameSize)
				return a.peerGone(err)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.opts.Logger.Warn("Websocket read failed", "error", err)
			} else {
				a.opts.Logger.Info("Websocket client disconnected", "error", err)
			}
			return a.peerGone(err)
		}
		a.extendReadDeadline()
		a.received.Add(1)
		a.opts.Recorder.FrameReceived()

		if msgType != websocket.TextMessage {
			a.drop(DropUnsupported, "message_type", msgType)
			continue
		}
		if !a.limiter.Allow() {
			a.drop(DropRateLimited)
			continue
		}
		reply, err := a.opts.Codec.Decode(payload)
		if err != nil {
			a.drop(DropMalformed, "error", err)
			continue
		}

		select {
		case a.inbox <- reply:
		default:
			a.drop(DropInboxFull, "inbox_size", a.opts.InboxSize)
		}
	}
}

func (a *Adapter) drop(reason string, args ...any) {
	a.dropped.Add(1)
	a.opts.Recorder.FrameDropped(reason)
	a.opts.Logger.Debug("Dropped client frame", append([]any{"reason", reason}, args...)...)
}

// =============================================================================
// Pinger
// =============================================================================

func (a *Adapter) pingLoop(ctx context.Context) error {
	if a.opts.PingInterval < 0 {
		return nil
	}
	ticker := time.NewTicker(a.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(a.opts.WriteTimeout)
			if err := a.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return a.peerGone(err)
			}
		}
	}
}

// =============================================================================
// Pump
// =============================================================================

func (a *Adapter) pumpLoop(ctx context.Context) error {
	for {
		env, err := a.link.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			a.writeClose(websocket.CloseNormalClosure, "flow complete")
			return errDrained
		case errors.Is(err, bridge.ErrClosed):
			a.writeClose(websocket.CloseGoingAway, "session closed")
			return errLinkClosed
		case err != nil:
			return err
		}

		if err := a.send(env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return a.peerGone(err)
		}
		if !env.ExpectsReply {
			continue
		}

		text, err := a.awaitReply(ctx, env.Seq)
		if errors.Is(err, errLinkClosed) {
			a.writeClose(websocket.CloseGoingAway, "session closed")
			return err
		}
		if err != nil {
			return err
		}
		if err := a.link.DeliverAnswer(env.Seq, text); err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return errLinkClosed
			}
			a.opts.Logger.Warn("Answer rejected by channel", "seq", env.Seq, "error", err)
		}
	}
}

func (a *Adapter) send(env bridge.Envelope) error {
	payload, err := a.opts.Codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope %d: %w", env.Seq, err)
	}
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}

	kind := wire.TypeNotification
	if env.ExpectsReply {
		kind = wire.TypePrompt
	}
	a.sent.Add(1)
	a.opts.Recorder.FrameSent(kind)
	return nil
}

// awaitReply takes the next inbox entry that answers seq. Correlated replies
// for any other id are dropped as stale.
func (a *Adapter) awaitReply(ctx context.Context, seq uint64) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return bridge.Sentinel, ctx.Err()
		case <-a.link.Done():
			return bridge.Sentinel, errLinkClosed
		case reply := <-a.inbox:
			if reply.Correlated && reply.ID != seq {
				a.drop(DropStale, "id", reply.ID, "want", seq)
				continue
			}
			return reply.Text, nil
		}
	}
}

func (a *Adapter) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := a.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(a.opts.WriteTimeout)); err != nil {
		a.opts.Logger.Debug("Failed to write close frame", "error", err)
	}
}
