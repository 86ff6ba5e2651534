// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Tool is a function the model may call.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the JSON schema of the input object.
	Parameters() map[string]any

	// Call runs the tool. The returned value is marshalled to JSON.
	Call(ctx context.Context, input json.RawMessage) (any, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Fn              func(ctx context.Context, input json.RawMessage) (any, error)
}

func (t ToolFunc) Name() string               { return t.ToolName }
func (t ToolFunc) Description() string        { return t.ToolDescription }
func (t ToolFunc) Parameters() map[string]any { return t.Schema }
func (t ToolFunc) Call(ctx context.Context, input json.RawMessage) (any, error) {
	return t.Fn(ctx, input)
}

// ToolRegistry holds the tools offered to the model. It is read-only after
// construction and safe for concurrent use.
type ToolRegistry struct {
	tools map[string]Tool
	names []string
}

// NewToolRegistry creates a registry. Later tools replace earlier ones with
// the same name.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	for name := range r.tools {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// List returns the tools sorted by name. A nil registry has none.
func (r *ToolRegistry) List() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs a tool and always returns JSON output. Failures are reported
// to the model as {"error": "..."} with isError set, so a failing tool never
// ends the turn.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, bool) {
	var tool Tool
	if r != nil {
		tool = r.tools[name]
	}
	if tool == nil {
		return errorOutput(fmt.Errorf("%w: %s", ErrUnknownTool, name)), true
	}

	result, err := tool.Call(ctx, input)
	if err != nil {
		slog.Warn("Tool call failed", "tool", name, "error", err)
		return errorOutput(err), true
	}
	out, err := json.Marshal(result)
	if err != nil {
		return errorOutput(fmt.Errorf("marshal %s result: %w", name, err)), true
	}
	return out, false
}

func errorOutput(err error) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return out
}

// runTool executes one call between its start and end events and returns
// the output for the model.
func runTool(ctx context.Context, tools *ToolRegistry, emit emitFunc, name string, input json.RawMessage) (string, bool, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := emit(ToolStartEvent{Tool: name, Input: input}); err != nil {
		return "", false, err
	}
	output, isError := tools.Execute(ctx, name, input)
	if err := emit(ToolEndEvent{Tool: name, Output: output}); err != nil {
		return "", false, err
	}
	return string(output), isError, nil
}
