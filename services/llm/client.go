// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts model providers into a single pull-based event source.
//
// Every backend produces the same three event variants (TokenEvent,
// ToolStartEvent, ToolEndEvent) through an EventStream that the caller
// drains one event at a time with Next. Tool calls are executed by the
// backend itself, serially, so a ToolStartEvent is always followed by its
// ToolEndEvent before the next call starts.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("zynk.llm")

// ErrUnknownTool is returned when a model requests a tool that is not
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// Message is one entry of the model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are optional sampling overrides.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// =============================================================================
// Events
// =============================================================================

// Event is the closed set of things a model turn can produce. Switch on the
// concrete type:
//
//	switch ev := ev.(type) {
//	case llm.TokenEvent:
//	case llm.ToolStartEvent:
//	case llm.ToolEndEvent:
//	}
type Event interface {
	isEvent()
}

// TokenEvent carries incremental assistant text.
type TokenEvent struct {
	Text string
}

// ToolStartEvent marks the start of a tool call.
type ToolStartEvent struct {
	Tool  string
	Input json.RawMessage
}

// ToolEndEvent carries the result of the call started by the preceding
// ToolStartEvent.
type ToolEndEvent struct {
	Tool   string
	Output json.RawMessage
}

func (TokenEvent) isEvent()     {}
func (ToolStartEvent) isEvent() {}
func (ToolEndEvent) isEvent()   {}

// =============================================================================
// Interfaces
// =============================================================================

// EventStream yields a turn's events in generation order.
type EventStream interface {
	// Next blocks for the next event. It returns io.EOF after the last
	// event, ctx.Err() when ctx is done, or the upstream failure.
	Next(ctx context.Context) (Event, error)

	// Close stops the upstream call and releases its resources. Safe to
	// call more than once and after io.EOF.
	Close() error
}

// ModelSource starts model turns.
type ModelSource interface {
	// Stream starts generating a reply to messages. Errors that happen
	// before the first event may be returned here or from Next.
	Stream(ctx context.Context, messages []Message) (EventStream, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
