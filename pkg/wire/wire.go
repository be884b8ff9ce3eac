// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire encodes bridge envelopes into websocket text frames and decodes
// client frames into replies.
//
// Two protocols exist:
//
//   - text: one unframed UTF-8 string per frame in both directions. Prompts are
//     indistinguishable from notifications and every client frame is a
//     candidate answer. This is what the browser page speaks.
//   - json: a tagged union. Prompts carry the envelope sequence number as "id"
//     and a reply must echo it, so answers are correlated explicitly.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
)

// Protocol names a wire format.
type Protocol string

const (
	// ProtocolText is the legacy unframed string protocol.
	ProtocolText Protocol = "text"

	// ProtocolJSON is the structured tagged-union protocol.
	ProtocolJSON Protocol = "json"
)

// Message types of the json protocol.
const (
	TypeNotification = "notification"
	TypePrompt       = "prompt"
	TypeReply        = "reply"
)

// ErrMalformed is returned when a client frame cannot be decoded.
var ErrMalformed = errors.New("wire: malformed frame")

// Frame is the json protocol's on-the-wire object.
type Frame struct {
	Type         string `json:"type"`
	ID           uint64 `json:"id,omitempty"`
	Text         string `json:"text"`
	ExpectsReply bool   `json:"expects_reply,omitempty"`
}

// Reply is a decoded client frame.
//
// Correlated is false for the text protocol, where ID carries no meaning and
// the reply answers whichever prompt is outstanding.
type Reply struct {
	ID         uint64
	Text       string
	Correlated bool
}

// Codec converts between envelopes and frame payloads.
type Codec interface {
	Protocol() Protocol
	Encode(env bridge.Envelope) ([]byte, error)
	Decode(payload []byte) (Reply, error)
}

// ParseProtocol converts a configuration or query string into a Protocol. The
// empty string selects ProtocolText.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProtocolText:
		return ProtocolText, nil
	case ProtocolJSON:
		return ProtocolJSON, nil
	default:
		return ProtocolText, fmt.Errorf("wire: unknown protocol %q", s)
	}
}

// NewCodec returns the codec for p.
func NewCodec(p Protocol) (Codec, error) {
	switch p {
	case ProtocolText, "":
		return TextCodec{}, nil
	case ProtocolJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown protocol %q", p)
	}
}

// =============================================================================
// text
// =============================================================================

// TextCodec implements the text protocol.
type TextCodec struct{}

// Protocol returns ProtocolText.
func (TextCodec) Protocol() Protocol { return ProtocolText }

// Encode returns the envelope text unchanged.
func (TextCodec) Encode(env bridge.Envelope) ([]byte, error) {
	return []byte(env.Text), nil
}

// Decode returns the whole payload as an uncorrelated reply.
func (TextCodec) Decode(payload []byte) (Reply, error) {
	return Reply{Text: string(payload)}, nil
}

// =============================================================================
// json
// =============================================================================

// JSONCodec implements the json protocol.
type JSONCodec struct{}

// Protocol returns ProtocolJSON.
func (JSONCodec) Protocol() Protocol { return ProtocolJSON }

// Encode produces a notification or prompt frame.
func (JSONCodec) Encode(env bridge.Envelope) ([]byte, error) {
	f := Frame{Type: TypeNotification, Text: env.Text}
	if env.ExpectsReply {
		f = Frame{Type: TypePrompt, ID: env.Seq, Text: env.Text, ExpectsReply: true}
	}
	return json.Marshal(f)
}

// Decode accepts only reply frames with a non-zero id.
func (JSONCodec) Decode(payload []byte) (Reply, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type != TypeReply {
		return Reply{}, fmt.Errorf("%w: unexpected type %q", ErrMalformed, f.Type)
	}
	if f.ID == 0 {
		return Reply{}, fmt.Errorf("%w: reply without id", ErrMalformed)
	}
	return Reply{ID: f.ID, Text: f.Text, Correlated: true}, nil
}

// EncodeReply builds a client-side reply frame for the json protocol.
func EncodeReply(id uint64, text string) ([]byte, error) {
	return json.Marshal(Frame{Type: TypeReply, ID: id, Text: text})
}

// DecodeServer parses a server frame on the client side. For the text
// protocol every frame is reported as a notification.
func DecodeServer(p Protocol, payload []byte) (Frame, error) {
	if p != ProtocolJSON {
		return Frame{Type: TypeNotification, Text: string(payload)}, nil
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}
