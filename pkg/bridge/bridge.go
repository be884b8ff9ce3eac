// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge connects a step engine that blocks waiting for user input to
// an asynchronous, message-oriented transport.
//
// # Description
//
// A Channel has two faces:
//
//	┌──────────────┐  Notify / Request   ┌─────────┐  Next / DeliverAnswer  ┌───────────┐
//	│ Step Engine  │ ──────────────────► │ Channel │ ◄───────────────────── │ Transport │
//	│ (one run)    │ ◄────── answer ──── │         │ ────── Envelope ─────► │ (pump)    │
//	└──────────────┘                     └─────────┘                        └───────────┘
//
// The engine sees a Conversation: fire-and-forget notifications and
// send-then-wait requests. The transport sees a Link: an ordered stream of
// Envelopes and a way to resolve the one outstanding request.
//
// # Scheduling Modes
//
//   - ModeCooperative: outbound envelopes are handed directly to the pump.
//     Notify and Request suspend until the pump has taken the envelope, so the
//     engine and the transport take turns and never run ahead of each other.
//   - ModeThreaded: outbound envelopes go to an unbounded FIFO and Notify never
//     blocks. Intended for workflow code that blocks on its own and should run on
//     a dedicated OS thread.
//
// Both modes share ordering and disconnect semantics: envelopes are delivered in
// enqueue order, at most one request is outstanding, and Close releases any
// pending Request with the Sentinel answer and ErrClosed.
//
// # Thread Safety
//
// A Channel is safe for one engine goroutine and one transport goroutine
// operating concurrently. Close may be called from any goroutine, any number of
// times.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel is the answer a pending Request resolves to when no real answer will
// ever arrive.
const Sentinel = ""

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bridge: channel closed")

	// ErrFinished is returned by Notify and Request after Finish.
	ErrFinished = errors.New("bridge: channel finished")

	// ErrRequestPending is returned when Request is called while another
	// request is still unanswered.
	ErrRequestPending = errors.New("bridge: a request is already outstanding")

	// ErrNoPendingRequest is returned by DeliverAnswer when nothing is waiting.
	ErrNoPendingRequest = errors.New("bridge: no request outstanding")

	// ErrStaleAnswer is returned by DeliverAnswer when the answer does not
	// belong to the outstanding request.
	ErrStaleAnswer = errors.New("bridge: answer does not match the outstanding request")
)

// Envelope is one unit of transport-bound content.
//
// Seq starts at 1 and increases by one for every envelope a Channel produces.
// A reply to a prompt is correlated by the prompt's Seq.
type Envelope struct {
	Seq          uint64
	Text         string
	ExpectsReply bool
}

// Conversation is the engine-facing side of a Channel.
type Conversation interface {
	// Notify enqueues a message that expects no reply.
	Notify(ctx context.Context, message string) error

	// Request enqueues a prompt and waits for its answer. If the channel is
	// closed first it returns Sentinel and ErrClosed.
	Request(ctx context.Context, prompt string) (string, error)
}

// Link is the transport-facing side of a Channel.
type Link interface {
	// Next returns the next envelope in enqueue order. It returns io.EOF once
	// the engine has finished and every envelope has been taken, and ErrClosed
	// after Close.
	Next(ctx context.Context) (Envelope, error)

	// DeliverAnswer resolves the outstanding request whose prompt had the
	// given sequence number.
	DeliverAnswer(seq uint64, text string) error

	// Close releases the engine and stops the stream. Idempotent.
	Close()

	// Done is closed once Close has been called.
	Done() <-chan struct{}
}

// Mode selects how the engine and the transport are scheduled against each
// other.
type Mode int

const (
	// ModeCooperative hands each envelope directly to the transport.
	ModeCooperative Mode = iota

	// ModeThreaded buffers envelopes in an unbounded queue.
	ModeThreaded
)

// String returns "cooperative", "threaded" or "unknown".
func (m Mode) String() string {
	switch m {
	case ModeCooperative:
		return "cooperative"
	case ModeThreaded:
		return "threaded"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string into a Mode. The empty string
// selects ModeCooperative.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cooperative", "async":
		return ModeCooperative, nil
	case "threaded", "thread":
		return ModeThreaded, nil
	default:
		return ModeCooperative, fmt.Errorf("bridge: unknown mode %q", s)
	}
}
