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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts reading the user's answers.
//
// # Description
//
// The client runner reads answers through InputReader so tests can script
// them. Production uses InteractiveInputReader on a terminal and
// StdinReader otherwise.
type InputReader interface {
	// ReadLine blocks until a line is available and returns it trimmed.
	// It returns io.EOF once input is exhausted.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own prompt.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader reads newline-terminated lines, for piped input and CI.
//
// # Thread Safety
//
// Not thread-safe. Single reader per stream.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader on os.Stdin.
func NewStdinReader() *StdinReader {
	return newLineReader(os.Stdin)
}

func newLineReader(r io.Reader) *StdinReader {
	return &StdinReader{reader: bufio.NewReader(r)}
}

// ReadLine returns the next line. A final line without a trailing newline is
// still returned before io.EOF.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// history is a bounded list of submitted lines, most recent last.
type history struct {
	entries []string
	max     int
}

func (h *history) push(line string) {
	if line == "" {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// InteractiveInputReader reads lines with bubbletea line editing and
// up/down history navigation.
//
// # Description
//
// Keys:
//   - Enter: submit
//   - Up/Down: walk history
//   - Ctrl+C: discard the current line (returns "")
//   - Ctrl+D on an empty line: io.EOF
//
// # Limitations
//
//   - History is in-memory only
//   - Server messages that arrive while the line is being edited are printed
//     above the input once it is submitted
type InteractiveInputReader struct {
	history history
	prompt  string
}

// NewInteractiveInputReader returns an InteractiveInputReader when stdin is a
// terminal and a StdinReader otherwise.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history: history{max: maxHistory},
		prompt:  "> ",
	}
}

// SetPrompt sets the prompt drawn before the input field.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine runs one bubbletea program per line.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.CharLimit = 256
	ti.Width = 60
	ti.Focus()

	final, err := tea.NewProgram(newLineModel(ti, r.history.entries), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(lineModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	if m.eof {
		return "", io.EOF
	}

	line := strings.TrimSpace(m.input.Value())
	r.history.push(line)
	return line, nil
}

// lineModel is the bubbletea model behind InteractiveInputReader.
type lineModel struct {
	input   textinput.Model
	entries []string
	cursor  int    // index into entries; len(entries) means the draft
	draft   string // the unsubmitted line, restored when walking past the newest entry
	done    bool
	eof     bool
}

func newLineModel(ti textinput.Model, entries []string) lineModel {
	return lineModel{input: ti, entries: entries, cursor: len(entries)}
}

func (m lineModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m lineModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit
	case tea.KeyCtrlC:
		m.input.SetValue("")
		m.done = true
		return m, tea.Quit
	case tea.KeyCtrlD:
		if m.input.Value() == "" {
			m.eof = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case tea.KeyUp:
		m.walk(-1)
		return m, nil
	case tea.KeyDown:
		m.walk(+1)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// walk moves the history cursor by delta, saving the draft when leaving it.
func (m *lineModel) walk(delta int) {
	next := m.cursor + delta
	if next < 0 || next > len(m.entries) {
		return
	}
	if m.cursor == len(m.entries) {
		m.draft = m.input.Value()
	}
	m.cursor = next
	if next == len(m.entries) {
		m.input.SetValue(m.draft)
	} else {
		m.input.SetValue(m.entries[next])
	}
	m.input.CursorEnd()
}

func (m lineModel) View() string {
	if m.done {
		return ""
	}
	return m.input.View()
}
