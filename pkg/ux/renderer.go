// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// TerminalRenderer prints a streaming turn to a terminal.
//
// Text is written as it arrives. Output held behind an unresolved tool
// placeholder is delayed until the call resolves, so nothing already printed
// ever needs rewriting. Tool blocks are drawn as boxes when styled is true
// and left as delimited text otherwise.
type TerminalRenderer struct {
	w      io.Writer
	styled bool

	mu       sync.Mutex
	printed  string
	wasBusy  bool
	lastSeen int
}

// NewTerminalRenderer creates a renderer writing to w.
func NewTerminalRenderer(w io.Writer, styled bool) *TerminalRenderer {
	return &TerminalRenderer{w: w, styled: styled}
}

// OnUpdate is a TurnConfig.OnUpdate hook.
func (r *TerminalRenderer) OnUpdate(s TurnSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Busy && !r.wasBusy {
		r.wasBusy = true
		r.printed = ""
		r.lastSeen = len(s.Messages)
		fmt.Fprint(r.w, r.label("zynk")+" ")
	}

	stable := s.Streaming
	if s.State == StateToolActive {
		if i := strings.LastIndex(stable, ToolBlockStart); i >= 0 {
			stable = stable[:i]
		}
	}
	if strings.HasPrefix(stable, r.printed) && len(stable) > len(r.printed) {
		fmt.Fprint(r.w, r.FormatTranscript(stable[len(r.printed):]))
		r.printed = stable
	}

	if !s.Busy && r.wasBusy {
		r.wasBusy = false
		if n := len(s.Messages); n > 0 && n >= r.lastSeen {
			if last := s.Messages[n-1]; last.IsError {
				fmt.Fprintln(r.w)
				fmt.Fprint(r.w, r.FormatTranscript(last.Content))
			}
		}
		fmt.Fprintln(r.w)
	}
}

// RenderMessage formats a stored message for history listings.
func (r *TerminalRenderer) RenderMessage(m ChatMessage) string {
	who := "you"
	if m.Role != "user" {
		who = "zynk"
	}
	return r.label(who) + " " + r.FormatTranscript(m.Content)
}

// RenderTags formats keyword tags as a single line.
func (r *TerminalRenderer) RenderTags(tags []KeywordTag) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, len(tags))
	for i, t := range tags {
		word := "#" + t.Word
		if r.styled {
			word = Styles.Tag.Render(word)
		}
		parts[i] = word
	}
	return strings.Join(parts, " ")
}

// FormatTranscript replaces each delimited tool block with its boxed form.
func (r *TerminalRenderer) FormatTranscript(text string) string {
	if !r.styled {
		return text
	}
	return toolBlockPattern.ReplaceAllStringFunc(text, func(block string) string {
		body := strings.TrimSuffix(strings.TrimPrefix(block, ToolBlockStart+"\n"), ToolBlockEnd)
		body = strings.TrimRight(body, "\n")

		name, rest, _ := strings.Cut(body, "\n")
		name = strings.TrimPrefix(name, "[tool] ")
		content := Styles.ToolName.Render("⚙ "+name) + "\n" + Styles.Muted.Render(rest)
		if name == ErrorToolName {
			return Styles.ErrorBox.Render(content) + "\n"
		}
		return Styles.ToolBox.Render(content) + "\n"
	})
}

// RenderNotice formats a status line for the REPL. Errors are red and
// everything else is a warning.
func (r *TerminalRenderer) RenderNotice(msg string, isError bool) string {
	if !r.styled {
		return msg
	}
	if isError {
		return Styles.Error.Render(msg)
	}
	return Styles.Warning.Render(msg)
}

func (r *TerminalRenderer) label(who string) string {
	text := who + ">"
	if !r.styled {
		return text
	}
	if who == "you" {
		return Styles.User.Render(text)
	}
	return Styles.Assistant.Render(text)
}
