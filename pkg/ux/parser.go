// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamParser reassembles protocol frames from arbitrarily split chunks.
//
// A parser holds the trailing incomplete line and any partially accumulated
// frame between calls, so one instance must be used for exactly one turn.
// Feeding the same bytes in one call or in any number of smaller calls
// yields the same frame sequence.
//
// Not safe for concurrent use; the read loop that owns it is sequential.
type StreamParser interface {
	// Parse appends chunk to the carry-over buffer and returns every frame
	// completed by it. It may return zero, one, or many frames.
	Parse(chunk []byte) []protocol.Frame

	// Flush processes whatever remains in the buffer as a final line and
	// emits a pending partial frame, if any. Call it once at end of stream.
	Flush() []protocol.Frame
}

// =============================================================================
// Struct Definition
// =============================================================================

// frameParser implements StreamParser.
//
// Data lines are decoded as JSON objects and their fields merged into
// partial. A blank line terminates the record: a non-empty partial becomes
// a frame, an empty one is dropped. Comment lines (": ping") and unknown SSE
// fields are ignored.
type frameParser struct {
	buffer  strings.Builder
	partial map[string]json.RawMessage
	logger  *slog.Logger
}

// NewStreamParser creates a parser for one turn.
//
// Parameters:
//   - logger: receives warnings about malformed lines. Nil uses slog.Default().
//
// Returns a ready StreamParser.
func NewStreamParser(logger *slog.Logger) StreamParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &frameParser{logger: logger}
}

// =============================================================================
// Methods
// =============================================================================

// Parse implements StreamParser.
func (p *frameParser) Parse(chunk []byte) []protocol.Frame {
	if len(chunk) == 0 {
		return nil
	}
	p.buffer.Write(chunk)

	data := p.buffer.String()
	last := strings.LastIndex(data, protocol.LineDelimiter)
	if last < 0 {
		return nil
	}

	complete, rest := data[:last], data[last+1:]
	p.buffer.Reset()
	p.buffer.WriteString(rest)

	var frames []protocol.Frame
	for _, line := range strings.Split(complete, protocol.LineDelimiter) {
		if f, ok := p.processLine(line); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush implements StreamParser.
func (p *frameParser) Flush() []protocol.Frame {
	var frames []protocol.Frame
	if rest := p.buffer.String(); rest != "" {
		p.buffer.Reset()
		if f, ok := p.processLine(rest); ok {
			frames = append(frames, f)
		}
	}
	if f, ok := p.emit(); ok {
		frames = append(frames, f)
	}
	return frames
}

// processLine handles one complete line and returns a frame when the line
// terminates a non-empty record.
func (p *frameParser) processLine(line string) (protocol.Frame, bool) {
	line = strings.TrimSuffix(line, "\r")

	if strings.TrimSpace(line) == "" {
		return p.emit()
	}

	payload, ok := protocol.CutDataPrefix(line)
	if !ok {
		// Comments, keepalives and event/id/retry fields carry nothing we use.
		return protocol.Frame{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		p.logger.Warn("Skipping malformed stream line", "error", err, "line", payload)
		return protocol.Frame{}, false
	}
	if p.partial == nil {
		p.partial = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		p.partial[k] = v
	}
	return protocol.Frame{}, false
}

// emit converts the accumulated fields into a frame and resets them.
func (p *frameParser) emit() (protocol.Frame, bool) {
	if len(p.partial) == 0 {
		return protocol.Frame{}, false
	}
	fields := p.partial
	p.partial = nil

	raw, err := json.Marshal(fields)
	if err != nil {
		p.logger.Warn("Dropping unencodable frame", "error", err)
		return protocol.Frame{}, false
	}
	f, err := protocol.DecodePayload(raw)
	if err != nil {
		p.logger.Warn("Dropping invalid frame", "error", err, "payload", string(raw))
		return protocol.Frame{}, false
	}
	return *f, true
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamParser = (*frameParser)(nil)
