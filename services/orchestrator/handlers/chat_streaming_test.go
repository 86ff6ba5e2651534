// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/zynk/pkg/protocol"
	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/middleware"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
	"github.com/AleutianAI/zynk/services/orchestrator/sequencer"
	"github.com/AleutianAI/zynk/services/orchestrator/store"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type streamFixture struct {
	router  *gin.Engine
	store   *store.MemoryStore
	metrics *observability.StreamingMetrics
}

func newStreamFixture(t *testing.T, model llm.ModelSource, cfg sequencer.Config, heartbeat time.Duration) *streamFixture {
	t.Helper()

	mem := store.NewMemoryStore()
	metrics := observability.NewStreamingMetrics(prometheus.NewRegistry())
	seq := sequencer.New(model, mem, nil, metrics, nil, cfg)

	router := gin.New()
	router.Use(middleware.Identity())
	router.POST("/v1/chat/stream", NewStreamingChatHandler(seq, metrics, heartbeat, nil).HandleChatStream)

	return &streamFixture{router: router, store: mem, metrics: metrics}
}

func (f *streamFixture) post(t *testing.T, ctx context.Context, body any) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", bytes.NewReader(raw)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// decodeFrames splits an SSE body into frames, skipping keepalives.
func decodeFrames(t *testing.T, body string) []protocol.Frame {
	t.Helper()

	var frames []protocol.Frame
	for _, record := range strings.Split(body, protocol.RecordDelimiter) {
		if record == "" || strings.HasPrefix(record, protocol.CommentPrefix) {
			continue
		}
		f, err := protocol.DecodeRecord(record)
		require.NoError(t, err, "record %q", record)
		frames = append(frames, *f)
	}
	return frames
}

func frameTypes(frames []protocol.Frame) []protocol.FrameType {
	out := make([]protocol.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func helloRequest(chatID string) map[string]any {
	return map[string]any{"messages": []any{}, "newMessage": "Hello", "chatId": chatID}
}

// =============================================================================
// NewStreamingChatHandler Tests
// =============================================================================

func TestNewStreamingChatHandler_PanicsOnNilSequencer(t *testing.T) {
	assert.Panics(t, func() {
		NewStreamingChatHandler(nil, nil, 0, nil)
	}, "should panic on nil sequencer")
}

// =============================================================================
// HandleChatStream Tests
// =============================================================================

func TestHandleChatStream_HelloTurn(t *testing.T) {
	model := &llm.ScriptedSource{Events: []llm.Event{llm.TokenEvent{Text: "Hi"}, llm.TokenEvent{Text: " there"}}}
	f := newStreamFixture(t, model, sequencer.Config{}, 0)
	chat, err := f.store.CreateChat(context.Background(), "t")
	require.NoError(t, err)

	rec := f.post(t, context.Background(), helloRequest(chat.ID))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	want := "data: {\"type\":\"connected\"}\n\n" +
		"data: {\"type\":\"token\",\"token\":\"Hi\"}\n\n" +
		"data: {\"type\":\"token\",\"token\":\" there\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n"
	assert.Equal(t, want, rec.Body.String())

	msgs, err := f.store.ListMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("chat_stream", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FramesTotal.WithLabelValues("chat_stream", "token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FramesTotal.WithLabelValues("chat_stream", "done")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveStreams.WithLabelValues("chat_stream")))
}

func TestHandleChatStream_ValidationRejectedBeforeStream(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"missing newMessage", map[string]any{"chatId": "c-1"}, "newMessage is required"},
		{"missing chatId", map[string]any{"newMessage": "Hello"}, "chatId is required"},
		{"blank newMessage", map[string]any{"newMessage": "  ", "chatId": "c-1"}, "newMessage is required"},
		{"malformed json", `{"newMessage":`, "invalid request body"},
		{"wrong type", `{"newMessage":42,"chatId":"c-1"}`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &llm.ScriptedSource{}
			f := newStreamFixture(t, model, sequencer.Config{}, 0)

			rec := f.post(t, context.Background(), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp["error"])
			assert.Empty(t, model.Calls(), "model must not run")
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("chat_stream", "validation")))
		})
	}
}

func TestHandleChatStream_ModelError(t *testing.T) {
	model := &llm.ScriptedSource{
		Events: []llm.Event{llm.TokenEvent{Text: "A"}, llm.TokenEvent{Text: "B"}},
		Err:    errors.New("boom"),
	}
	f := newStreamFixture(t, model, sequencer.Config{}, 0)

	rec := f.post(t, context.Background(), helloRequest("c-1"))

	frames := decodeFrames(t, rec.Body.String())
	assert.Equal(t, []protocol.FrameType{
		protocol.FrameConnected, protocol.FrameToken, protocol.FrameToken, protocol.FrameError,
	}, frameTypes(frames))
	assert.NotContains(t, frames[3].Error, "boom")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("chat_stream", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("chat_stream", "llm_error")))
}

func TestHandleChatStream_ErrorThenDoneWhenConfigured(t *testing.T) {
	model := &llm.ScriptedSource{Err: errors.New("boom")}
	f := newStreamFixture(t, model, sequencer.Config{EmitDoneAfterError: true}, 0)

	rec := f.post(t, context.Background(), helloRequest("c-1"))

	assert.Equal(t, []protocol.FrameType{
		protocol.FrameConnected, protocol.FrameError, protocol.FrameDone,
	}, frameTypes(decodeFrames(t, rec.Body.String())))
}

func TestHandleChatStream_ToolFrames(t *testing.T) {
	model := &llm.ScriptedSource{Events: []llm.Event{
		llm.ToolStartEvent{Tool: "search", Input: json.RawMessage(`{"zip":"32789"}`)},
		llm.ToolEndEvent{Tool: "search", Output: json.RawMessage(`{"num_found":3}`)},
		llm.TokenEvent{Text: "Found 3 cars"},
	}}
	f := newStreamFixture(t, model, sequencer.Config{}, 0)

	rec := f.post(t, context.Background(), helloRequest("c-1"))

	assert.Contains(t, rec.Body.String(),
		"data: {\"type\":\"tool_start\",\"tool\":\"search\",\"input\":{\"zip\":\"32789\"}}\n\n"+
			"data: {\"type\":\"tool_end\",\"tool\":\"search\",\"output\":{\"num_found\":3}}\n\n")
}

func TestHandleChatStream_Heartbeat(t *testing.T) {
	model := &llm.ScriptedSource{
		Events: []llm.Event{llm.TokenEvent{Text: "slow"}},
		Delay:  100 * time.Millisecond,
	}
	f := newStreamFixture(t, model, sequencer.Config{}, 10*time.Millisecond)

	rec := f.post(t, context.Background(), helloRequest("c-1"))

	body := rec.Body.String()
	assert.Contains(t, body, protocol.KeepAlive)
	assert.True(t, strings.HasSuffix(body, "data: {\"type\":\"done\"}\n\n"), "done must be last: %q", body)
	assert.Equal(t, []protocol.FrameType{
		protocol.FrameConnected, protocol.FrameToken, protocol.FrameDone,
	}, frameTypes(decodeFrames(t, body)))
	assert.Greater(t, testutil.ToFloat64(f.metrics.KeepAlivesTotal.WithLabelValues("chat_stream")), 0.0)
}

func TestHandleChatStream_ClientDisconnect(t *testing.T) {
	model := &llm.ScriptedSource{
		Events: []llm.Event{llm.TokenEvent{Text: "never"}},
		Delay:  time.Second,
	}
	f := newStreamFixture(t, model, sequencer.Config{}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := f.post(t, ctx, helloRequest("c-1"))

	assert.Equal(t, []protocol.FrameType{protocol.FrameConnected}, frameTypes(decodeFrames(t, rec.Body.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClientDisconnectsTotal.WithLabelValues("chat_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("chat_stream", "canceled")))
}
