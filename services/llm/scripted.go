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
	"strings"
	"sync"
	"time"
)

// ScriptedSource replays a fixed event list, then fails with Err if set.
// It backs tests and the "echo" development backend.
type ScriptedSource struct {
	Events []Event
	Err    error

	// Delay is slept before each event.
	Delay time.Duration

	mu       sync.Mutex
	received [][]Message
}

// Stream implements ModelSource.
func (s *ScriptedSource) Stream(ctx context.Context, messages []Message) (EventStream, error) {
	s.mu.Lock()
	s.received = append(s.received, append([]Message(nil), messages...))
	s.mu.Unlock()

	events := append([]Event(nil), s.Events...)
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		for _, ev := range events {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
		return s.Err
	}), nil
}

// Name implements ModelSource.
func (s *ScriptedSource) Name() string { return "scripted" }

// Calls returns the message lists passed to Stream, in call order.
func (s *ScriptedSource) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.received...)
}

// EchoSource streams the last user message back word by word. It needs no
// credentials, which makes it the default for local development.
type EchoSource struct {
	Delay time.Duration
}

// Stream implements ModelSource.
func (e EchoSource) Stream(ctx context.Context, messages []Message) (EventStream, error) {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}

	var events []Event
	for i, word := range strings.Fields("You said: " + last) {
		if i > 0 {
			word = " " + word
		}
		events = append(events, TokenEvent{Text: word})
	}
	return (&ScriptedSource{Events: events, Delay: e.Delay}).Stream(ctx, messages)
}

// Name implements ModelSource.
func (EchoSource) Name() string { return "echo" }

var (
	_ ModelSource = (*ScriptedSource)(nil)
	_ ModelSource = EchoSource{}
)
