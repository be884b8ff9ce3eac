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
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a state change is not in the table.
var ErrIllegalTransition = errors.New("session: illegal state transition")

// State is the lifecycle position of a Session.
//
//	CONNECTING ─► RUNNING ─┬─► COMPLETED ────┐
//	     │                 ├─► FAILED ───────┼─► CLOSED
//	     │                 └─► DISCONNECTED ─┘
//	     └──────────────────► FAILED / CLOSED
type State int

const (
	StateConnecting State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateDisconnected
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting:   "CONNECTING",
	StateRunning:      "RUNNING",
	StateCompleted:    "COMPLETED",
	StateFailed:       "FAILED",
	StateDisconnected: "DISCONNECTED",
	StateClosed:       "CLOSED",
}

var transitions = map[State][]State{
	StateConnecting:   {StateRunning, StateFailed, StateClosed},
	StateRunning:      {StateCompleted, StateFailed, StateDisconnected},
	StateCompleted:    {StateClosed},
	StateFailed:       {StateClosed},
	StateDisconnected: {StateClosed},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
