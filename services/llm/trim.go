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

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TrimHistory keeps the newest messages that fit in budget tokens.
//
// Leading system messages are always kept and count against the budget. The
// kept conversation starts on a user message, and the newest message is
// kept even if it alone exceeds the budget. A budget <= 0 disables trimming.
func TrimHistory(messages []Message, budget int) []Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}

	var system []Message
	rest := messages
	for len(rest) > 0 && rest[0].Role == "system" {
		system = append(system, rest[0])
		rest = rest[1:]
	}

	used := 0
	for _, m := range system {
		used += EstimateTokens(m.Content)
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := EstimateTokens(rest[i].Content)
		if used+cost > budget && start < len(rest) {
			break
		}
		used += cost
		start = i
	}
	for start < len(rest)-1 && rest[start].Role != "user" {
		start++
	}

	out := make([]Message, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	return append(out, rest[start:]...)
}
