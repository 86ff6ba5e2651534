// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

func applyAll(r TranscriptReconstructor, frames ...protocol.Frame) {
	for _, f := range frames {
		r.Apply(f)
	}
}

func TestTranscript_PlainTokens(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r,
		protocol.Connected(),
		protocol.Token("Hi"),
		protocol.Token(" there"),
		protocol.Done(),
	)

	if r.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", r.State())
	}
	if r.Text() != "Hi there" {
		t.Errorf("expected %q, got %q", "Hi there", r.Text())
	}
	if r.Err() != nil {
		t.Errorf("expected no error, got %v", r.Err())
	}
}

func TestTranscript_ToolCallResolvedInPlace(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	r.Apply(protocol.Connected())
	r.Apply(toolStart(t, "search", map[string]any{"zip": "32789"}))

	if r.State() != StateToolActive {
		t.Fatalf("expected tool_active, got %s", r.State())
	}
	if !strings.Contains(r.Text(), PlaceholderOutput) {
		t.Fatalf("expected placeholder while pending, got %q", r.Text())
	}
	if p := r.Pending(); p == nil || p.Tool != "search" || p.Start != 0 {
		t.Fatalf("unexpected pending call: %+v", p)
	}

	r.Apply(toolEnd(t, "search", map[string]any{"num_found": 3}))
	r.Apply(protocol.Token("Found 3 cars"))
	r.Apply(protocol.Done())

	text := r.Text()
	if r.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", r.State())
	}
	if strings.Contains(text, PlaceholderOutput) {
		t.Errorf("placeholder should be gone: %q", text)
	}
	if strings.Count(text, ToolBlockStart) != 1 || strings.Count(text, ToolBlockEnd) != 1 {
		t.Errorf("expected exactly one tool block: %q", text)
	}
	if !strings.Contains(text, `"num_found": 3`) {
		t.Errorf("expected resolved output in block: %q", text)
	}
	if !strings.HasSuffix(text, ToolBlockEnd+"\nFound 3 cars") {
		t.Errorf("expected text after the block: %q", text)
	}
	if r.Pending() != nil {
		t.Errorf("pending call should be cleared")
	}
}

func TestTranscript_ToolBlockShowsHTMLCharactersVerbatim(t *testing.T) {
	overWire := func(f protocol.Frame) protocol.Frame {
		got := protocol.Decode(string(protocol.MustEncode(f)))
		if got == nil {
			t.Fatalf("frame %s did not survive the wire", f.Type)
		}
		return *got
	}

	r := NewTranscriptReconstructor(nil)
	applyAll(r,
		overWire(protocol.Connected()),
		overWire(toolStart(t, "search", json.RawMessage(`{"url":"https://x.test/?a=1&b=<2>"}`))),
		overWire(toolEnd(t, "search", map[string]any{"dealer": "A&B Motors <Orlando>"})),
		overWire(protocol.Done()),
	)

	text := r.Text()
	if strings.Contains(text, `\u00`) {
		t.Errorf("tool block contains escaped characters: %q", text)
	}
	if !strings.Contains(text, `"dealer": "A&B Motors <Orlando>"`) {
		t.Errorf("expected readable output in block: %q", text)
	}
	if !strings.Contains(text, `"url": "https://x.test/?a=1&b=<2>"`) {
		t.Errorf("expected readable input in block: %q", text)
	}
}

func TestTranscript_TextBeforeToolSurvivesReplacement(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r,
		protocol.Connected(),
		protocol.Token("Let me check. "),
		toolStart(t, "search", map[string]any{"zip": "10001"}),
		protocol.Token("(still working)"),
		toolEnd(t, "search", "3 results"),
		protocol.Done(),
	)

	text := r.Text()
	if !strings.HasPrefix(text, "Let me check. "+ToolBlockStart) {
		t.Errorf("prefix text lost: %q", text)
	}
	if !strings.HasSuffix(text, "(still working)") {
		t.Errorf("text emitted while pending lost: %q", text)
	}
	if !strings.Contains(text, "$ output\n3 results\n") {
		t.Errorf("string output should render unquoted: %q", text)
	}
}

func TestTranscript_ErrorDiscardsPartialText(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r,
		protocol.Connected(),
		protocol.Token("A"),
		protocol.Token("B"),
		protocol.Error("boom"),
	)

	if r.State() != StateFailed {
		t.Fatalf("expected failed, got %s", r.State())
	}
	if r.Text() != "" {
		t.Errorf("expected partial text discarded, got %q", r.Text())
	}
	var streamErr *StreamError
	if !errors.As(r.Err(), &streamErr) || streamErr.Message != "boom" {
		t.Errorf("expected StreamError boom, got %v", r.Err())
	}
}

func TestTranscript_StrayToolEndIgnored(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r, protocol.Connected(), protocol.Token("hello"))

	r.Apply(toolEnd(t, "search", map[string]any{"num_found": 1}))

	if r.State() != StateStreaming {
		t.Errorf("expected streaming, got %s", r.State())
	}
	if r.Text() != "hello" {
		t.Errorf("stray tool_end mutated transcript: %q", r.Text())
	}
}

func TestTranscript_SecondToolStartIgnored(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r,
		protocol.Connected(),
		toolStart(t, "first", nil),
	)
	before := r.Text()
	r.Apply(toolStart(t, "second", nil))

	if r.Text() != before {
		t.Errorf("nested tool_start should not change transcript")
	}
	if p := r.Pending(); p == nil || p.Tool != "first" {
		t.Errorf("expected first call still pending, got %+v", p)
	}
}

func TestTranscript_TerminalExclusivity(t *testing.T) {
	tests := []struct {
		name   string
		frames []protocol.Frame
		want   TranscriptState
	}{
		{"done only", []protocol.Frame{protocol.Connected(), protocol.Done()}, StateCompleted},
		{"error only", []protocol.Frame{protocol.Connected(), protocol.Error("x")}, StateFailed},
		{"done then error", []protocol.Frame{protocol.Connected(), protocol.Done(), protocol.Error("x")}, StateCompleted},
		{"error then done", []protocol.Frame{protocol.Connected(), protocol.Error("x"), protocol.Done()}, StateFailed},
		{"double done", []protocol.Frame{protocol.Connected(), protocol.Token("a"), protocol.Done(), protocol.Done()}, StateCompleted},
		{"no connected", []protocol.Frame{protocol.Token("a"), protocol.Done()}, StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTranscriptReconstructor(nil)
			applyAll(r, tt.frames...)
			if r.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, r.State())
			}
		})
	}
}

func TestTranscript_FramesAfterDoneIgnored(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r, protocol.Connected(), protocol.Token("final"), protocol.Done(), protocol.Token(" extra"))
	if r.Text() != "final" {
		t.Errorf("expected frames after done ignored, got %q", r.Text())
	}
}

func TestTranscript_Abort(t *testing.T) {
	r := NewTranscriptReconstructor(nil)
	applyAll(r, protocol.Connected(), protocol.Token("partial"))
	r.Abort(nil)

	if r.State() != StateFailed {
		t.Fatalf("expected failed, got %s", r.State())
	}
	if !errors.Is(r.Err(), ErrStreamIncomplete) {
		t.Errorf("expected ErrStreamIncomplete, got %v", r.Err())
	}

	done := NewTranscriptReconstructor(nil)
	applyAll(done, protocol.Connected(), protocol.Done())
	done.Abort(errors.New("late"))
	if done.State() != StateCompleted {
		t.Errorf("abort must not override a terminal state")
	}
}
