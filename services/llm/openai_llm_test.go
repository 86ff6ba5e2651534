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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// newMockOpenAIServer serves one scripted SSE body per request, in order.
func newMockOpenAIServer(t *testing.T, bodies ...[]string) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		n := len(requests)
		requests = append(requests, string(body))
		mu.Unlock()

		if n >= len(bodies) {
			http.Error(w, `{"error":{"message":"unexpected call"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range bodies[n] {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), requests...)
	}
}

func contentChunk(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"content": text},
		}},
	})
	return string(b)
}

func toolCallChunk(id, name, args string) string {
	call := map[string]any{
		"index":    0,
		"type":     "function",
		"function": map[string]any{"name": name, "arguments": args},
	}
	if id != "" {
		call["id"] = id
	}
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"tool_calls": []any{call}},
		}},
	})
	return string(b)
}

func TestOpenAISource_StreamsTokens(t *testing.T) {
	srv, _ := newMockOpenAIServer(t, []string{contentChunk("Hel"), contentChunk("lo")})

	src, err := NewOpenAISource(OpenAIConfig{APIKey: "test", Model: "gpt-test", BaseURL: srv.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAISource: %v", err)
	}
	stream, _ := src.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	events, err := drain(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.(TokenEvent).Text)
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
}

func TestOpenAISource_ToolRound(t *testing.T) {
	srv, requests := newMockOpenAIServer(t,
		[]string{
			toolCallChunk("call_1", "echo", `{"q":`),
			toolCallChunk("", "", `"civic"}`),
		},
		[]string{contentChunk("Found it.")},
	)

	src, err := NewOpenAISource(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, NewToolRegistry(echoTool()))
	if err != nil {
		t.Fatalf("NewOpenAISource: %v", err)
	}
	stream, _ := src.Stream(context.Background(), []Message{{Role: "user", Content: "find a civic"}})
	events, err := drain(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected start, end, token; got %#v", events)
	}
	start, ok := events[0].(ToolStartEvent)
	if !ok || start.Tool != "echo" || string(start.Input) != `{"q":"civic"}` {
		t.Errorf("start = %#v", events[0])
	}
	end, ok := events[1].(ToolEndEvent)
	if !ok || string(end.Output) != `{"q":"civic"}` {
		t.Errorf("end = %#v", events[1])
	}
	if tok, ok := events[2].(TokenEvent); !ok || tok.Text != "Found it." {
		t.Errorf("token = %#v", events[2])
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 API calls, got %d", len(reqs))
	}
	second := reqs[1]
	if !strings.Contains(second, `"tool_call_id":"call_1"`) {
		t.Errorf("second request missing tool result: %s", second)
	}
}

func TestOpenAISource_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	src, _ := NewOpenAISource(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	stream, _ := src.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if _, err := drain(t, stream); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewOpenAISource_RequiresKey(t *testing.T) {
	if _, err := NewOpenAISource(OpenAIConfig{}, nil); err == nil {
		t.Fatal("expected an error without an API key")
	}
}
