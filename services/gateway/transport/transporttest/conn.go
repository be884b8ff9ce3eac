// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transporttest provides an in-memory transport.Conn.
package transporttest

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by reads and writes after Close.
var ErrConnClosed = errors.New("transporttest: connection closed")

type frame struct {
	typ  int
	data []byte
}

// Conn is a scripted websocket connection. Tests play the client: Send
// injects client frames, Outbound yields what the server wrote.
//
// Safe for concurrent use.
type Conn struct {
	inbound  chan frame
	outbound chan string

	mu          sync.Mutex
	written     []string
	closeCode   int
	pings       int
	writeErr    error
	pongHandler func(string) error
	readLimit   int64
	closed      bool
	hungUp      bool

	done      chan struct{}
	closeOnce sync.Once
	hangup    chan struct{}
	hangOnce  sync.Once
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbound:  make(chan frame, 64),
		outbound: make(chan string, 256),
		done:     make(chan struct{}),
		hangup:   make(chan struct{}),
	}
}

// Send queues a client text frame.
func (c *Conn) Send(text string) {
	c.SendFrame(websocket.TextMessage, []byte(text))
}

// SendFrame queues a client frame of any type.
func (c *Conn) SendFrame(typ int, data []byte) {
	select {
	case c.inbound <- frame{typ: typ, data: data}:
	case <-c.done:
	}
}

// Hangup simulates the client going away: pending and future reads fail with
// a going-away close error.
func (c *Conn) Hangup() {
	c.hangOnce.Do(func() {
		c.mu.Lock()
		c.hungUp = true
		c.mu.Unlock()
		close(c.hangup)
	})
}

// FailWrites makes every later WriteMessage return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Outbound yields every data frame the server writes, in order.
func (c *Conn) Outbound() <-chan string {
	return c.outbound
}

// Next waits up to timeout for the next server frame.
func (c *Conn) Next(timeout time.Duration) (string, bool) {
	select {
	case text := <-c.outbound:
		return text, true
	case <-time.After(timeout):
		return "", false
	}
}

// Written returns every data frame written so far.
func (c *Conn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

// CloseCode returns the code of the close frame the server sent, or 0.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Pings returns how many ping frames were written.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Pong invokes the registered pong handler.
func (c *Conn) Pong() error {
	c.mu.Lock()
	h := c.pongHandler
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h("")
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Closed is closed when Close is called.
func (c *Conn) Closed() <-chan struct{} {
	return c.done
}

// ReadMessage implements transport.Conn.
func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		c.mu.Lock()
		limit := c.readLimit
		c.mu.Unlock()
		if limit > 0 && int64(len(f.data)) > limit {
			return 0, nil, websocket.ErrReadLimit
		}
		return f.typ, f.data, nil
	case <-c.hangup:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "client left"}
	case <-c.done:
		return 0, nil, ErrConnClosed
	}
}

// WriteMessage implements transport.Conn.
func (c *Conn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	text := string(data)
	c.written = append(c.written, text)
	c.mu.Unlock()

	select {
	case c.outbound <- text:
	default:
	}
	return nil
}

// WriteControl implements transport.Conn.
func (c *Conn) WriteControl(typ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.hungUp {
		return ErrConnClosed
	}
	switch typ {
	case websocket.PingMessage:
		c.pings++
	case websocket.CloseMessage:
		if len(data) >= 2 {
			c.closeCode = int(data[0])<<8 | int(data[1])
		}
	}
	return nil
}

// SetReadDeadline implements transport.Conn. Deadlines are not enforced.
func (c *Conn) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline implements transport.Conn. Deadlines are not enforced.
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// SetReadLimit implements transport.Conn. A larger inbound frame fails the
// read with websocket.ErrReadLimit.
func (c *Conn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

// ReadLimit returns the limit set by SetReadLimit.
func (c *Conn) ReadLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLimit
}

// SetPongHandler implements transport.Conn.
func (c *Conn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

// Close implements transport.Conn. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
