// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/handlers"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
	"github.com/AleutianAI/zynk/services/orchestrator/sequencer"
	"github.com/AleutianAI/zynk/services/orchestrator/store"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewStreamingMetrics(reg)
	mem := store.NewMemoryStore()
	seq := sequencer.New(llm.EchoSource{}, mem, nil, metrics, nil, sequencer.Config{})

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Stream:   handlers.NewStreamingChatHandler(seq, metrics, 0, nil),
		Chats:    handlers.NewChatHandler(mem, nil),
		Gatherer: reg,
	})
	return router
}

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat/stream"},
		{"POST", "/v1/chats"},
		{"GET", "/v1/chats"},
		{"GET", "/v1/chats/:chatId"},
		{"DELETE", "/v1/chats/:chatId"},
		{"GET", "/v1/chats/:chatId/messages"},
		{"POST", "/v1/chats/:chatId/messages"},
	}

	routes := router.Routes()
	assert.Len(t, routes, len(expected))
	for _, e := range expected {
		found := false
		for _, r := range routes {
			if r.Method == e.method && r.Path == e.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", e.method, e.path)
		}
	}
}

func TestSetupRoutes_StreamEndToEnd(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"messages":[],"newMessage":"ping","chatId":"c-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: {\"type\":\"connected\"}\n\n"))
	assert.Contains(t, rec.Body.String(), "\"token\":\" ping\"")
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: {\"type\":\"done\"}\n\n"))
}

func TestSetupRoutes_MetricsExposeStreamCounters(t *testing.T) {
	router := newTestRouter(t)

	stream := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"newMessage":"hi","chatId":"c-1"}`))
	stream.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), stream)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zynk_streaming_requests_total{endpoint="chat_stream",status="success"} 1`)
}
