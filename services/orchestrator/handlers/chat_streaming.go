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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/zynk/pkg/protocol"
	"github.com/AleutianAI/zynk/services/orchestrator/datatypes"
	"github.com/AleutianAI/zynk/services/orchestrator/middleware"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
	"github.com/AleutianAI/zynk/services/orchestrator/sequencer"
)

// DefaultHeartbeatInterval is how often keepalive comments are sent while a
// stream is open. Below the 60s idle timeout of common proxies (AWS ALB,
// nginx).
const DefaultHeartbeatInterval = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler handles the SSE chat stream endpoint.
//
// # Description
//
// Validates the request, opens an SSE response and hands the turn to the
// Event Sequencer, which writes every frame. The handler owns the transport:
// headers, the frame writer, keepalives and metrics.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Each request gets its own
// frame writer and sequencer run.
type StreamingChatHandler interface {
	// HandleChatStream processes POST /v1/chat/stream.
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements StreamingChatHandler.
//
// # Fields
//
//   - sequencer: Drives each turn. Must not be nil.
//   - metrics: Streaming metrics. May be nil.
//   - heartbeatInterval: Keepalive period.
//   - logger: Structured logger.
//   - tracer: OpenTelemetry tracer for distributed tracing.
type streamingChatHandler struct {
	sequencer         *sequencer.Sequencer
	metrics           *observability.StreamingMetrics
	heartbeatInterval time.Duration
	logger            *slog.Logger
	tracer            trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler creates a StreamingChatHandler.
//
// # Description
//
// Panics if seq is nil (programming error).
//
// # Inputs
//
//   - seq: Event Sequencer. Must not be nil.
//   - metrics: Streaming metrics. May be nil.
//   - heartbeatInterval: Keepalive period. Zero uses DefaultHeartbeatInterval.
//   - logger: May be nil for slog.Default().
//
// # Outputs
//
//   - StreamingChatHandler: Ready for use with Gin router
//
// # Examples
//
//	handler := handlers.NewStreamingChatHandler(seq, metrics, 0, logger)
//	router.POST("/v1/chat/stream", handler.HandleChatStream)
func NewStreamingChatHandler(
	seq *sequencer.Sequencer,
	metrics *observability.StreamingMetrics,
	heartbeatInterval time.Duration,
	logger *slog.Logger,
) StreamingChatHandler {
	if seq == nil {
		panic("NewStreamingChatHandler: sequencer must not be nil")
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &streamingChatHandler{
		sequencer:         seq,
		metrics:           metrics,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
		tracer:            otel.Tracer("zynk.orchestrator.handlers.chat_streaming"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes chat requests with SSE streaming.
//
// # Description
//
// Handles POST /v1/chat/stream requests. The flow is:
//  1. Parse and validate request body (400 before any SSE header)
//  2. Set SSE headers and create the frame writer
//  3. Start the heartbeat goroutine
//  4. Run the Event Sequencer, which writes connected, tokens, tool
//     frames and the terminal frame
//  5. Record metrics for the outcome
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.ChatRequest):
//   - messages: Optional. Prior conversation, max 100.
//   - newMessage: Required. The user's message, max 32KB.
//   - chatId: Required. Conversation identifier.
//
// # Outputs
//
// SSE frames:
//   - data: {"type":"connected"}
//   - data: {"type":"token","token":"Hello"}
//   - data: {"type":"tool_start","tool":"search_vehicles","input":{...}}
//   - data: {"type":"tool_end","tool":"search_vehicles","output":{...}}
//   - data: {"type":"done"}
//   - data: {"type":"error","error":"..."}
//
// HTTP Status (before streaming starts):
//   - 400 Bad Request: Invalid body or validation failure
//   - 500 Internal Server Error: ResponseWriter cannot flush
//
// # Examples
//
// Request:
//
//	POST /v1/chat/stream
//	{"messages":[],"newMessage":"Hello","chatId":"c-1"}
//
// Response (SSE stream):
//
//	data: {"type":"connected"}
//
//	data: {"type":"token","token":"Hi"}
//
//	data: {"type":"token","token":" there"}
//
//	data: {"type":"done"}
//
// # Limitations
//
//   - Errors after the stream opens are sent as error frames, not HTTP errors
//   - Error frames carry a generic message; details are only logged
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	requestID := middleware.GetRequestID(c)
	userID := middleware.GetUserID(c)
	logger := h.logger.With("requestId", requestID)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("user.id", userID),
	)

	// Step 1: Parse and validate
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		logger.Warn("Failed to parse chat stream request", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		logger.Warn("Chat stream request validation failed", "error", err, "chatId", req.ChatID)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: datatypes.ValidationMessage(err)})
		return
	}
	span.SetAttributes(
		attribute.String("chat.id", req.ChatID),
		attribute.Int("request.message_count", len(req.Messages)),
	)

	// Step 2: SSE headers and frame writer
	SetSSEHeaders(c.Writer)
	writer, err := NewFrameWriter(c.Writer, func(ft protocol.FrameType) {
		h.metrics.RecordFrame(endpoint, string(ft))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		logger.Error("Failed to create frame writer", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	defer writer.Close()
	c.Status(http.StatusOK)

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	// Step 3: Heartbeat
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	// Step 4: Run the turn
	out := h.sequencer.Run(ctx, sequencer.Turn{
		ChatID:     req.ChatID,
		UserID:     userID,
		History:    req.History(),
		NewMessage: req.NewMessage,
	}, writer)
	close(heartbeatDone)

	// Step 5: Metrics
	duration := time.Since(startTime).Seconds()
	h.metrics.RecordRequest(endpoint, out.Status)
	h.metrics.RecordStreamDuration(endpoint, duration, out.Status)
	if !out.FirstToken.IsZero() {
		ttft := out.FirstToken.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		h.metrics.RecordTimeToFirstToken(endpoint, ttft)
	}

	switch out.Status {
	case observability.StatusSuccess:
		span.SetStatus(codes.Ok, "stream completed successfully")
	case observability.StatusCanceled:
		h.metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		h.metrics.RecordClientDisconnect(endpoint)
	default:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Code))
		h.metrics.RecordError(endpoint, out.Code)
	}

	logger.Info("Chat stream finished",
		"chatId", req.ChatID,
		"status", out.Status,
		"tokens", out.Tokens,
		"toolCalls", out.ToolCalls,
		"durationMs", time.Since(startTime).Milliseconds(),
	)
}

// =============================================================================
// Helper Methods
// =============================================================================

// runHeartbeat sends periodic keepalive pings to prevent connection timeouts.
//
// # Description
//
// Runs in a separate goroutine, sending SSE comments every heartbeatInterval
// to keep the connection alive while the model is thinking or a tool runs.
// Stops when done is closed, the context is cancelled or a write fails.
//
// # Inputs
//
//   - ctx: Context for cancellation detection.
//   - writer: Frame writer to send keepalives.
//   - endpoint: Endpoint name for metrics.
//   - done: Channel to signal when to stop (close to stop).
//
// # Examples
//
//	done := make(chan struct{})
//	go h.runHeartbeat(ctx, writer, endpoint, done)
//	// ... do work ...
//	close(done)
//
// # Assumptions
//
//   - Writer is thread-safe.
func (h *streamingChatHandler) runHeartbeat(
	ctx context.Context,
	writer FrameWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}
