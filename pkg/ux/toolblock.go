// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const (
	// ToolBlockStart and ToolBlockEnd delimit a rendered tool call inside
	// transcript text. Persisted assistant messages keep them so a client
	// can style the block later.
	ToolBlockStart = "---START---"
	ToolBlockEnd   = "---END---"

	// PlaceholderOutput stands in for the output of an in-progress call.
	PlaceholderOutput = "Processing..."

	// ErrorToolName and ErrorToolInput label the block shown for a failed turn.
	ErrorToolName  = "error"
	ErrorToolInput = "Failed to process message"
)

var toolBlockPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(ToolBlockStart) + `.*?` + regexp.QuoteMeta(ToolBlockEnd))

// RenderToolBlock renders one tool call as a delimited text block. A nil
// output renders the placeholder.
func RenderToolBlock(tool string, input, output json.RawMessage) string {
	out := PlaceholderOutput
	if output != nil {
		out = formatValue(output)
	}

	var b strings.Builder
	b.WriteString(ToolBlockStart)
	b.WriteString("\n[tool] ")
	b.WriteString(tool)
	b.WriteString("\n$ input\n")
	b.WriteString(formatValue(input))
	b.WriteString("\n$ output\n")
	b.WriteString(out)
	b.WriteString("\n")
	b.WriteString(ToolBlockEnd)
	b.WriteString("\n")
	return b.String()
}

// RenderErrorBlock renders the visible block shown when a turn fails.
func RenderErrorBlock(message string) string {
	msg, _ := json.Marshal(message)
	in, _ := json.Marshal(ErrorToolInput)
	return RenderToolBlock(ErrorToolName, in, msg)
}

// StripToolBlocks removes every delimited tool block from text.
func StripToolBlocks(text string) string {
	return toolBlockPattern.ReplaceAllString(text, "")
}

// formatValue renders JSON strings unquoted and everything else indented.
func formatValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
