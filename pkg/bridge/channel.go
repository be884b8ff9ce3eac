// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Options tunes a Channel.
type Options struct {
	// Strict makes contract violations (a second Request, an unsolicited
	// DeliverAnswer) panic instead of returning an error. Enable in debug
	// builds only.
	Strict bool

	// Logger receives contract-violation warnings. Default: slog.Default().
	Logger *slog.Logger
}

// pendingRequest is the single reply slot of a Channel.
type pendingRequest struct {
	seq    uint64
	answer chan string
}

// Channel implements Conversation and Link.
//
// # Description
//
// Channel is the one synchronization object shared by a step engine run and
// its transport. The outbound side is either a rendezvous hand-off
// (ModeCooperative) or an unbounded FIFO (ModeThreaded); the inbound side is a
// single reply slot regardless of mode.
//
// # Lifecycle
//
//	New ──► Notify/Request ... ──► Finish ──► (transport drains) ──► Close
//	                         └──────────── Close (disconnect) ─────────┘
//
// Finish means "the run produced its last envelope". Close means "nobody will
// ever read or answer again" and may happen at any point.
//
// # Thread Safety
//
// One engine goroutine calls Notify, Request and Finish. One transport
// goroutine calls Next and DeliverAnswer. Close is safe from anywhere.
type Channel struct {
	mode Mode
	opts Options

	mu       sync.Mutex
	nextSeq  uint64
	pending  *pendingRequest
	finished bool
	isClosed bool

	// ModeThreaded
	queue []Envelope
	ready chan struct{}

	// ModeCooperative
	handoff chan Envelope

	finishCh  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Channel for the given scheduling mode.
//
// # Inputs
//
//   - mode: ModeCooperative or ModeThreaded.
//   - opts: Optional tuning. Zero value is fine.
//
// # Outputs
//
//   - *Channel: Ready for one run.
//
// # Examples
//
//	ch := bridge.New(bridge.ModeCooperative, bridge.Options{})
//	defer ch.Close()
func New(mode Mode, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		mode:     mode,
		opts:     opts,
		ready:    make(chan struct{}, 1),
		handoff:  make(chan Envelope),
		finishCh: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Mode returns the scheduling mode the channel was created with.
func (c *Channel) Mode() Mode {
	return c.mode
}

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// Pending reports whether a Request is waiting for its answer.
func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Notify enqueues a message that expects no reply.
//
// In ModeThreaded it never blocks. In ModeCooperative it returns once the
// transport has taken the message, the channel is closed, or ctx is done.
func (c *Channel) Notify(ctx context.Context, message string) error {
	env, err := c.reserve(message, false)
	if err != nil {
		return err
	}
	return c.push(ctx, env)
}

// Request enqueues a prompt and waits for the transport to deliver its answer.
//
// # Description
//
// The reply slot is claimed before the prompt becomes visible to the
// transport, so an answer can never arrive before it has somewhere to go.
//
// # Outputs
//
//   - string: The answer, or Sentinel on failure.
//   - error: ErrClosed if the channel closed first, ErrRequestPending if another
//     request is outstanding, ErrFinished after Finish, or ctx.Err().
func (c *Channel) Request(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return Sentinel, ErrClosed
	}
	if c.finished {
		c.mu.Unlock()
		return Sentinel, ErrFinished
	}
	if c.pending != nil {
		c.mu.Unlock()
		return Sentinel, c.misuse(ErrRequestPending, "request issued while another is outstanding",
			"outstanding_seq", c.pending.seq)
	}
	c.nextSeq++
	env := Envelope{Seq: c.nextSeq, Text: prompt, ExpectsReply: true}
	p := &pendingRequest{seq: env.Seq, answer: make(chan string, 1)}
	c.pending = p
	c.mu.Unlock()

	if err := c.push(ctx, env); err != nil {
		c.release(p)
		return Sentinel, err
	}

	select {
	case answer := <-p.answer:
		return answer, nil
	case <-c.closed:
		c.release(p)
		return Sentinel, ErrClosed
	case <-ctx.Done():
		c.release(p)
		return Sentinel, ctx.Err()
	}
}

// Finish marks the end of the run's output. Next returns io.EOF once every
// envelope produced before Finish has been taken. Idempotent.
func (c *Channel) Finish() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()
	close(c.finishCh)
	c.signal()
}

// Next returns the next envelope in enqueue order.
//
// # Outputs
//
//   - Envelope: The next envelope.
//   - error: io.EOF when finished and drained, ErrClosed after Close, or
//     ctx.Err().
func (c *Channel) Next(ctx context.Context) (Envelope, error) {
	if c.mode == ModeThreaded {
		return c.nextQueued(ctx)
	}
	return c.nextHandoff(ctx)
}

// DeliverAnswer resolves the outstanding request.
//
// # Outputs
//
//   - error: ErrNoPendingRequest if nothing is waiting, ErrStaleAnswer if seq
//     does not match the outstanding prompt, ErrClosed after Close.
func (c *Channel) DeliverAnswer(seq uint64, text string) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return c.misuse(ErrNoPendingRequest, "answer delivered with no request outstanding", "seq", seq)
	}
	if p.seq != seq {
		c.mu.Unlock()
		return c.misuse(ErrStaleAnswer, "answer delivered for a different request",
			"seq", seq, "outstanding_seq", p.seq)
	}
	c.pending = nil
	c.mu.Unlock()

	// Capacity 1 and a single writer per slot, so this never blocks.
	p.answer <- text
	return nil
}

// Close releases any pending Request with Sentinel and ErrClosed, discards
// unsent envelopes, and makes every later call fail with ErrClosed.
// Idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.isClosed = true
		c.queue = nil
		c.mu.Unlock()
		close(c.closed)
	})
}

// reserve assigns the next sequence number under the lock.
func (c *Channel) reserve(text string, expectsReply bool) (Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return Envelope{}, ErrClosed
	}
	if c.finished {
		return Envelope{}, ErrFinished
	}
	c.nextSeq++
	return Envelope{Seq: c.nextSeq, Text: text, ExpectsReply: expectsReply}, nil
}

// push makes a reserved envelope visible to the transport.
func (c *Channel) push(ctx context.Context, env Envelope) error {
	if c.mode == ModeThreaded {
		c.mu.Lock()
		if c.isClosed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.queue = append(c.queue, env)
		c.mu.Unlock()
		c.signal()
		return nil
	}

	select {
	case c.handoff <- env:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signal wakes a transport blocked in nextQueued. The buffer of one keeps a
// wakeup that arrives before the transport starts waiting.
func (c *Channel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Channel) nextQueued(ctx context.Context) (Envelope, error) {
	for {
		c.mu.Lock()
		if c.isClosed {
			c.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		if len(c.queue) > 0 {
			env := c.queue[0]
			c.queue[0] = Envelope{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return env, nil
		}
		// Empty and finished are read under the same lock, so a final
		// envelope pushed just before Finish is never skipped.
		if c.finished {
			c.mu.Unlock()
			return Envelope{}, io.EOF
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-c.closed:
			return Envelope{}, ErrClosed
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

func (c *Channel) nextHandoff(ctx context.Context) (Envelope, error) {
	select {
	case <-c.closed:
		return Envelope{}, ErrClosed
	default:
	}

	select {
	case env := <-c.handoff:
		return env, nil
	case <-c.finishCh:
		// Finish is only called after the producer's last push returned, but
		// prefer a waiting envelope over EOF anyway.
		select {
		case env := <-c.handoff:
			return env, nil
		default:
			return Envelope{}, io.EOF
		}
	case <-c.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// release clears the reply slot if it still belongs to p.
func (c *Channel) release(p *pendingRequest) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// misuse reports a contract violation.
func (c *Channel) misuse(err error, msg string, args ...any) error {
	if c.opts.Strict {
		panic(err)
	}
	c.opts.Logger.Warn("bridge: "+msg, append(args, "mode", c.mode.String())...)
	return err
}

var (
	_ Conversation = (*Channel)(nil)
	_ Link         = (*Channel)(nil)
)
