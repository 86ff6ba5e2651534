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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// maxInputHistory bounds the terminal reader's up-arrow history.
const maxInputHistory = 50

// lineReader reads one line of user input. ReadLine returns io.EOF when the
// user is done.
type lineReader interface {
	ReadLine() (string, error)
}

// promptingReader is a lineReader that draws its own prompt.
type promptingReader interface {
	lineReader
	SetPrompt(prompt string)
}

// newLineReader returns a line editor with history when in is a terminal
// and a plain scanner otherwise (pipes, CI, tests).
func newLineReader(in io.Reader, out io.Writer) lineReader {
	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return newTerminalReader(f, out)
	}
	return newScannerReader(in)
}

// =============================================================================
// scannerReader
// =============================================================================

// scannerReader reads newline-terminated lines from any reader.
type scannerReader struct {
	scanner *bufio.Scanner
}

func newScannerReader(in io.Reader) *scannerReader {
	return &scannerReader{scanner: bufio.NewScanner(in)}
}

func (r *scannerReader) ReadLine() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// =============================================================================
// terminalReader
// =============================================================================

// terminalReader edits each line in a bubbletea textinput with up/down
// history. Ctrl-D, or Ctrl-C on an empty line, ends input.
type terminalReader struct {
	in      *os.File
	out     io.Writer
	prompt  string
	history []string
}

func newTerminalReader(in *os.File, out io.Writer) *terminalReader {
	return &terminalReader{
		in:      in,
		out:     out,
		prompt:  "> ",
		history: make([]string, 0, maxInputHistory),
	}
}

func (r *terminalReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

func (r *terminalReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	p := tea.NewProgram(newInputModel(ti, r.history), tea.WithInput(r.in), tea.WithOutput(r.out))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	m, ok := final.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	if m.eof {
		return "", io.EOF
	}

	line := strings.TrimSpace(m.textInput.Value())
	// The model clears itself on exit; keep the submitted line on screen.
	fmt.Fprintf(r.out, "%s%s\n", r.prompt, line)
	if line != "" {
		r.remember(line)
	}
	return line, nil
}

func (r *terminalReader) remember(line string) {
	if n := len(r.history); n > 0 && r.history[n-1] == line {
		return
	}
	r.history = append(r.history, line)
	if len(r.history) > maxInputHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model behind terminalReader.
type inputModel struct {
	textInput textinput.Model
	history   []string
	// index is the history entry shown, -1 while editing a new line.
	index int
	draft string
	done  bool
	eof   bool
}

func newInputModel(ti textinput.Model, history []string) inputModel {
	return inputModel{textInput: ti, history: history, index: -1}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit
	case tea.KeyCtrlD:
		m.done, m.eof = true, true
		return m, tea.Quit
	case tea.KeyCtrlC:
		// Ctrl-C clears a line being typed and exits from an empty prompt.
		if m.textInput.Value() == "" {
			m.done, m.eof = true, true
			return m, tea.Quit
		}
		m.textInput.SetValue("")
		m.index = -1
		return m, nil
	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		if m.index == -1 {
			m.draft = m.textInput.Value()
			m.index = len(m.history) - 1
		} else if m.index > 0 {
			m.index--
		}
		m.textInput.SetValue(m.history[m.index])
		m.textInput.CursorEnd()
		return m, nil
	case tea.KeyDown:
		if m.index == -1 {
			return m, nil
		}
		if m.index < len(m.history)-1 {
			m.index++
			m.textInput.SetValue(m.history[m.index])
		} else {
			m.index = -1
			m.textInput.SetValue(m.draft)
		}
		m.textInput.CursorEnd()
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}
