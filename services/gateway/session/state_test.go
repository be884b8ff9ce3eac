// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]State{
		{StateConnecting, StateRunning},
		{StateRunning, StateCompleted},
		{StateRunning, StateFailed},
		{StateRunning, StateDisconnected},
		{StateCompleted, StateClosed},
		{StateFailed, StateClosed},
		{StateDisconnected, StateClosed},
		{StateConnecting, StateClosed},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	forbidden := [][2]State{
		{StateClosed, StateRunning},
		{StateClosed, StateClosed},
		{StateCompleted, StateFailed},
		{StateRunning, StateClosed},
		{StateRunning, StateConnecting},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestSession_TransitionRecordsFinalState(t *testing.T) {
	s := &Session{id: "s1", state: StateConnecting}

	require.NoError(t, s.transition(StateRunning))
	assert.ErrorIs(t, s.transition(StateConnecting), ErrIllegalTransition)
	require.NoError(t, s.transition(StateFailed))
	require.NoError(t, s.transition(StateClosed))

	snap := s.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, StateFailed, snap.FinalState)
	assert.NotNil(t, snap.EndedAt)
	assert.True(t, snap.State.Terminal())
	assert.ErrorIs(t, s.transition(StateClosed), ErrIllegalTransition)
}

func TestState_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		S State `json:"s"`
	}{StateDisconnected})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"DISCONNECTED"}`, string(out))

	var back struct {
		S State `json:"s"`
	}
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, StateDisconnected, back.S)
	assert.Error(t, json.Unmarshal([]byte(`{"s":"LIMBO"}`), &back))
	assert.Equal(t, "State(42)", State(42).String())
}
