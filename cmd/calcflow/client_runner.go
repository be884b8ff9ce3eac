// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

var (
	serverStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// ClientRunner is the terminal counterpart of the browser client page: it
// prints every server message and sends each line the user enters.
//
// # Description
//
// With the text protocol each line is sent as it is typed; the server
// buffers early answers. With the json protocol a line is held until a
// prompt is outstanding and then sent as a reply carrying that prompt's id.
//
// # Thread Safety
//
// Run must be called once. Output writes are serialized internally.
type ClientRunner struct {
	conn     *websocket.Conn
	protocol wire.Protocol
	input    InputReader
	out      io.Writer
	outMu    sync.Mutex
}

// NewClientRunner creates a runner on an established connection.
func NewClientRunner(conn *websocket.Conn, protocol wire.Protocol, input InputReader, out io.Writer) *ClientRunner {
	if p, ok := input.(PromptingInputReader); ok {
		p.SetPrompt("> ")
	}
	return &ClientRunner{conn: conn, protocol: protocol, input: input, out: out}
}

// Run blocks until the server closes the session or ctx is cancelled.
//
// # Outputs
//
//   - error: nil when the server closed the session normally or went away,
//     ctx.Err() on cancellation, otherwise the read or write failure.
func (r *ClientRunner) Run(ctx context.Context) error {
	defer r.conn.Close()

	stop := make(chan struct{})
	defer close(stop)

	prompts := make(chan uint64)
	serverDone := make(chan error, 1)
	go func() { serverDone <- r.readLoop(prompts, stop) }()

	lines := make(chan string)
	go r.inputLoop(lines, stop)

	var (
		queued  []string
		pending []uint64
	)
	for {
		select {
		case <-ctx.Done():
			r.closeNormal("client interrupted")
			return ctx.Err()

		case err := <-serverDone:
			return err

		case id := <-prompts:
			pending = append(pending, id)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				r.status("[input closed, waiting for the server]")
				continue
			}
			r.println(userStyle.Render("YOU: " + line))
			if r.protocol != wire.ProtocolJSON {
				if err := r.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
					return fmt.Errorf("send failed: %w", err)
				}
				continue
			}
			queued = append(queued, line)
		}

		for len(queued) > 0 && len(pending) > 0 {
			payload, err := wire.EncodeReply(pending[0], queued[0])
			if err != nil {
				return err
			}
			if err := r.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			queued, pending = queued[1:], pending[1:]
		}
	}
}

// readLoop prints server frames and forwards prompt ids until the connection
// ends.
func (r *ClientRunner) readLoop(prompts chan<- uint64, stop <-chan struct{}) error {
	r.status("[connected to server]")
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				if ce.Text != "" {
					r.status("[disconnected: " + ce.Text + "]")
				} else {
					r.status("[disconnected]")
				}
				return nil
			}
			r.println(errorStyle.Render("[connection lost: " + err.Error() + "]"))
			return err
		}
		frame, err := r.handleFrame(data)
		if err != nil {
			r.println(errorStyle.Render("[unreadable server frame: " + err.Error() + "]"))
			continue
		}
		if frame.Type == wire.TypePrompt {
			select {
			case prompts <- frame.ID:
			case <-stop:
				return nil
			}
		}
	}
}

// handleFrame decodes and prints one server frame.
func (r *ClientRunner) handleFrame(data []byte) (wire.Frame, error) {
	frame, err := wire.DecodeServer(r.protocol, data)
	if err != nil {
		return wire.Frame{}, err
	}
	style := serverStyle
	if frame.Type == wire.TypePrompt {
		style = promptStyle
	}
	r.println(style.Render("SERVER: " + frame.Text))
	return frame, nil
}

// inputLoop feeds lines until the reader fails. Empty lines are skipped.
// The goroutine may outlive Run, since a blocked stdin read cannot be
// interrupted.
func (r *ClientRunner) inputLoop(lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	for {
		line, err := r.input.ReadLine()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-stop:
			return
		}
	}
}

func (r *ClientRunner) closeNormal(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (r *ClientRunner) status(msg string) {
	r.println(statusStyle.Render(msg))
}

func (r *ClientRunner) println(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintln(r.out, s)
}
