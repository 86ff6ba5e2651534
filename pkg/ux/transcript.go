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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// TranscriptState is the lifecycle state of one turn's transcript.
type TranscriptState int

const (
	StateIdle TranscriptState = iota
	StateStreaming
	StateToolActive
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s TranscriptState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateToolActive:
		return "tool_active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further frames are processed in s.
func (s TranscriptState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrStreamIncomplete is the failure recorded when a stream ends before a
// terminal frame.
var ErrStreamIncomplete = errors.New("stream ended before completion")

// StreamError is the failure carried by an error frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "assistant stream failed: " + e.Message
}

// PendingToolCall is the single in-progress tool call of a transcript.
// Start and End bound its placeholder block in the buffer.
type PendingToolCall struct {
	Tool  string
	Input json.RawMessage
	Start int
	End   int
}

// =============================================================================
// Interface Definition
// =============================================================================

// TranscriptReconstructor folds a turn's frames into a rendered transcript.
//
// Text and tool calls are appended in frame order. A tool_start appends a
// placeholder block and records its byte range; the matching tool_end
// replaces exactly that range. Protocol desyncs (a stray tool_end, a second
// tool_start while one is pending) are logged and ignored. Once Completed or
// Failed, every further frame is ignored.
//
// Not safe for concurrent use.
type TranscriptReconstructor interface {
	// Apply advances the state machine with one frame.
	Apply(frame protocol.Frame)

	// Abort fails a non-terminal transcript with err. No-op when terminal.
	Abort(err error)

	// State returns the current state.
	State() TranscriptState

	// Text returns the visible transcript. A failed transcript is empty:
	// partial output is discarded.
	Text() string

	// Pending returns the in-progress tool call, or nil.
	Pending() *PendingToolCall

	// Err returns the failure once in StateFailed, otherwise nil.
	Err() error
}

// =============================================================================
// Struct Definition
// =============================================================================

type transcriptReconstructor struct {
	state   TranscriptState
	buffer  strings.Builder
	pending *PendingToolCall
	err     error
	logger  *slog.Logger
}

// NewTranscriptReconstructor creates a reconstructor in StateIdle.
func NewTranscriptReconstructor(logger *slog.Logger) TranscriptReconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &transcriptReconstructor{logger: logger}
}

// =============================================================================
// Methods
// =============================================================================

// Apply implements TranscriptReconstructor.
func (r *transcriptReconstructor) Apply(f protocol.Frame) {
	if r.state.IsTerminal() {
		r.logger.Debug("Ignoring frame after terminal state", "frame", f.Type, "state", r.state)
		return
	}

	if r.state == StateIdle && f.Type != protocol.FrameConnected {
		r.logger.Warn("Frame received before connected", "frame", f.Type)
		r.state = StateStreaming
	}

	switch f.Type {
	case protocol.FrameConnected:
		if r.state == StateIdle {
			r.state = StateStreaming
		}

	case protocol.FrameToken:
		if r.state == StateToolActive {
			r.logger.Debug("Token received while tool call pending", "tool", r.pending.Tool)
		}
		r.buffer.WriteString(f.Token)

	case protocol.FrameToolStart:
		r.startTool(f)

	case protocol.FrameToolEnd:
		r.endTool(f)

	case protocol.FrameError:
		r.fail(&StreamError{Message: f.Error})

	case protocol.FrameDone:
		if r.pending != nil {
			r.logger.Warn("Turn completed with unresolved tool call", "tool", r.pending.Tool)
			r.pending = nil
		}
		r.state = StateCompleted

	default:
		r.logger.Warn("Ignoring unknown frame type", "frame", f.Type)
	}
}

func (r *transcriptReconstructor) startTool(f protocol.Frame) {
	if r.state == StateToolActive {
		r.logger.Warn("Ignoring tool_start while another call is pending",
			"pending", r.pending.Tool, "tool", f.Tool)
		return
	}

	start := r.buffer.Len()
	r.buffer.WriteString(RenderToolBlock(f.Tool, f.Input, nil))
	r.pending = &PendingToolCall{
		Tool:  f.Tool,
		Input: f.Input,
		Start: start,
		End:   r.buffer.Len(),
	}
	r.state = StateToolActive
}

func (r *transcriptReconstructor) endTool(f protocol.Frame) {
	if r.state != StateToolActive || r.pending == nil {
		r.logger.Warn("Ignoring tool_end with no pending call", "tool", f.Tool)
		return
	}

	call := r.pending
	if f.Tool != "" && f.Tool != call.Tool {
		r.logger.Warn("tool_end name differs from pending call", "pending", call.Tool, "tool", f.Tool)
	}

	text := r.buffer.String()
	resolved := RenderToolBlock(call.Tool, call.Input, nonNilOutput(f.Output))

	r.buffer.Reset()
	r.buffer.WriteString(text[:call.Start])
	r.buffer.WriteString(resolved)
	r.buffer.WriteString(text[call.End:])

	r.pending = nil
	r.state = StateStreaming
}

// Abort implements TranscriptReconstructor.
func (r *transcriptReconstructor) Abort(err error) {
	if r.state.IsTerminal() {
		return
	}
	if err == nil {
		err = ErrStreamIncomplete
	}
	r.fail(err)
}

func (r *transcriptReconstructor) fail(err error) {
	r.state = StateFailed
	r.err = err
	r.pending = nil
	r.buffer.Reset()
}

// State implements TranscriptReconstructor.
func (r *transcriptReconstructor) State() TranscriptState { return r.state }

// Text implements TranscriptReconstructor.
func (r *transcriptReconstructor) Text() string { return r.buffer.String() }

// Pending implements TranscriptReconstructor.
func (r *transcriptReconstructor) Pending() *PendingToolCall {
	if r.pending == nil {
		return nil
	}
	p := *r.pending
	return &p
}

// Err implements TranscriptReconstructor.
func (r *transcriptReconstructor) Err() error { return r.err }

// nonNilOutput keeps an absent output from rendering as the placeholder.
func nonNilOutput(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	return raw
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ TranscriptReconstructor = (*transcriptReconstructor)(nil)
