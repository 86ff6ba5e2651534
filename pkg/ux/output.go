// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux is the client side of the chat stream: it turns the byte
// stream into frames, frames into a transcript, and drives whole turns
// against the orchestrator. It also holds the terminal styling used by the
// zynk CLI.
package ux

import (
	"github.com/charmbracelet/lipgloss"
)

// Zynk palette
var (
	ColorAccent  = lipgloss.Color("#2CD7C7") // user prompt, highlights
	ColorPrimary = lipgloss.Color("#20B9B4") // assistant label
	ColorBorder  = lipgloss.Color("#16858E") // tool block border
	ColorSlate   = lipgloss.Color("#2C4A54") // muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Muted     lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Tag       lipgloss.Style

	ToolBox  lipgloss.Style
	ToolName lipgloss.Style
	ErrorBox lipgloss.Style
}{
	User:      lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Tag:       lipgloss.NewStyle().Foreground(ColorAccent).Underline(true),

	ToolBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ToolName: lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}
