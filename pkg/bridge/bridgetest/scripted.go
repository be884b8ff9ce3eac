// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridgetest provides a scripted bridge.Conversation for step tests.
package bridgetest

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
)

// Scripted answers requests from a fixed list and records every outbound
// envelope. Once the list is exhausted, Request behaves like a closed channel.
//
// Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	answers  []string
	outbound []bridge.Envelope
	seq      uint64
}

// NewScripted returns a Scripted conversation that answers with answers, in
// order.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers}
}

// Notify records message.
func (s *Scripted) Notify(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.outbound = append(s.outbound, bridge.Envelope{Seq: s.seq, Text: message})
	return nil
}

// Request records prompt and returns the next scripted answer.
func (s *Scripted) Request(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.outbound = append(s.outbound, bridge.Envelope{Seq: s.seq, Text: prompt, ExpectsReply: true})
	if err := ctx.Err(); err != nil {
		return bridge.Sentinel, err
	}
	if len(s.answers) == 0 {
		return bridge.Sentinel, bridge.ErrClosed
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Outbound returns a copy of every recorded envelope.
func (s *Scripted) Outbound() []bridge.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bridge.Envelope, len(s.outbound))
	copy(out, s.outbound)
	return out
}

// Texts returns the recorded envelope texts in order.
func (s *Scripted) Texts() []string {
	envs := s.Outbound()
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Text
	}
	return out
}

// Prompts returns only the texts of envelopes that expected a reply.
func (s *Scripted) Prompts() []string {
	var out []string
	for _, env := range s.Outbound() {
		if env.ExpectsReply {
			out = append(out, env.Text)
		}
	}
	return out
}

var _ bridge.Conversation = (*Scripted)(nil)
