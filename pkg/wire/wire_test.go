// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"testing"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextCodec_PassesTextThrough(t *testing.T) {
	c := TextCodec{}

	out, err := c.Encode(bridge.Envelope{Seq: 3, Text: "Enter the first number:", ExpectsReply: true})
	require.NoError(t, err)
	assert.Equal(t, "Enter the first number:", string(out))

	r, err := c.Decode([]byte(" 42 "))
	require.NoError(t, err)
	assert.Equal(t, " 42 ", r.Text)
	assert.False(t, r.Correlated)
}

func TestJSONCodec_Encode(t *testing.T) {
	c := JSONCodec{}

	out, err := c.Encode(bridge.Envelope{Seq: 1, Text: "Starting the structured flow"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"notification","text":"Starting the structured flow"}`, string(out))

	out, err = c.Encode(bridge.Envelope{Seq: 2, Text: "Enter the first number:", ExpectsReply: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"prompt","id":2,"text":"Enter the first number:","expects_reply":true}`, string(out))
}

func TestJSONCodec_Decode(t *testing.T) {
	c := JSONCodec{}

	t.Run("reply", func(t *testing.T) {
		r, err := c.Decode([]byte(`{"type":"reply","id":2,"text":"6"}`))
		require.NoError(t, err)
		assert.Equal(t, Reply{ID: 2, Text: "6", Correlated: true}, r)
	})

	bad := map[string]string{
		"not json":       `6`,
		"wrong type":     `{"type":"prompt","id":2,"text":"6"}`,
		"missing id":     `{"type":"reply","text":"6"}`,
		"truncated json": `{"type":"reply"`,
	}
	for name, payload := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeReply_RoundTripsThroughServerDecoder(t *testing.T) {
	payload, err := EncodeReply(9, "divide")
	require.NoError(t, err)

	r, err := JSONCodec{}.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), r.ID)
	assert.Equal(t, "divide", r.Text)
}

func TestDecodeServer(t *testing.T) {
	f, err := DecodeServer(ProtocolText, []byte("Result: 2"))
	require.NoError(t, err)
	assert.Equal(t, TypeNotification, f.Type)
	assert.Equal(t, "Result: 2", f.Text)

	f, err = DecodeServer(ProtocolJSON, []byte(`{"type":"prompt","id":4,"text":"Enter the second number:","expects_reply":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypePrompt, f.Type)
	assert.Equal(t, uint64(4), f.ID)

	_, err = DecodeServer(ProtocolJSON, []byte("plain"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseProtocolAndNewCodec(t *testing.T) {
	p, err := ParseProtocol("")
	require.NoError(t, err)
	assert.Equal(t, ProtocolText, p)

	p, err = ParseProtocol(" JSON")
	require.NoError(t, err)
	assert.Equal(t, ProtocolJSON, p)

	_, err = ParseProtocol("msgpack")
	assert.Error(t, err)

	c, err := NewCodec(ProtocolJSON)
	require.NoError(t, err)
	assert.Equal(t, ProtocolJSON, c.Protocol())

	_, err = NewCodec("xml")
	assert.Error(t, err)
}
