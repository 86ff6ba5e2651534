// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the chat stream wire format shared by the
// orchestrator and its clients.
//
// A stream is a sequence of frames. Each frame is one JSON object written
// as a single SSE data record:
//
//	data: {"type":"token","token":"Hello"}\n\n
//
// The first frame of every turn is connected. Exactly one terminal frame
// (done or error) ends it. Tool calls are correlated by adjacency: at most
// one tool_start is open at a time and the next tool_end closes it. If
// concurrent tool calls are ever needed the frame must grow a call id.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of a frame on the wire.
type FrameType string

const (
	FrameConnected FrameType = "connected"
	FrameToken     FrameType = "token"
	FrameToolStart FrameType = "tool_start"
	FrameToolEnd   FrameType = "tool_end"
	FrameError     FrameType = "error"
	FrameDone      FrameType = "done"
)

// Valid reports whether t is one of the closed set of frame types.
func (t FrameType) Valid() bool {
	switch t {
	case FrameConnected, FrameToken, FrameToolStart, FrameToolEnd, FrameError, FrameDone:
		return true
	}
	return false
}

// IsTerminal reports whether a frame of this type ends a turn.
func (t FrameType) IsTerminal() bool {
	return t == FrameDone || t == FrameError
}

// Frame is one protocol message. Payload fields are populated according to
// Type; unused fields stay zero and are omitted on the wire.
//
// Input and Output hold arbitrary JSON. They are kept as raw bytes so a
// frame survives an encode/decode cycle unchanged.
type Frame struct {
	Type   FrameType       `json:"type"`
	Token  string          `json:"token,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Connected returns the frame that opens every turn.
func Connected() Frame { return Frame{Type: FrameConnected} }

// Token returns a text token frame.
func Token(text string) Frame { return Frame{Type: FrameToken, Token: text} }

// Done returns the success terminal frame.
func Done() Frame { return Frame{Type: FrameDone} }

// Error returns the failure terminal frame.
func Error(message string) Frame { return Frame{Type: FrameError, Error: message} }

// ToolStart returns a tool_start frame with input marshalled to JSON.
func ToolStart(tool string, input any) (Frame, error) {
	raw, err := marshalValue(input)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal tool input: %w", err)
	}
	return Frame{Type: FrameToolStart, Tool: tool, Input: raw}, nil
}

// ToolEnd returns a tool_end frame with output marshalled to JSON.
func ToolEnd(tool string, output any) (Frame, error) {
	raw, err := marshalValue(output)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal tool output: %w", err)
	}
	return Frame{Type: FrameToolEnd, Tool: tool, Output: raw}, nil
}

// IsTerminal reports whether the frame ends a turn.
func (f Frame) IsTerminal() bool { return f.Type.IsTerminal() }

func marshalValue(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return compact(val)
	}
	return marshalJSON(v)
}
