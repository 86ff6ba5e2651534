// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chat stream.
//
// # Description
//
// Metrics cover the life of one streamed turn:
//   - Streams started, active and their duration by outcome
//   - Frames written by frame type
//   - Time to first token
//   - Errors by code, client disconnects and keepalives
//   - Intent middleware outcomes and model tool calls
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *StreamingMetrics, which records
// nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "zynk"

// Subsystem for streaming metrics
const streamingSubsystem = "streaming"

// StreamingMetrics holds all Prometheus metrics for streamed chat turns.
//
// # Description
//
// Initialize once at startup via NewStreamingMetrics and pass the instance
// to the components that record into it.
type StreamingMetrics struct {
	// RequestsTotal counts finished streams by endpoint and status.
	// Labels: endpoint, status (success, error, canceled)
	RequestsTotal *prometheus.CounterVec

	// FramesTotal counts frames written by type.
	// Labels: endpoint, type (connected, token, tool_start, ...)
	FramesTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first token frame.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by code.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive comments sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams abandoned by the client.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// MiddlewareTotal counts intent middleware runs.
	// Labels: middleware, outcome (skipped, handled, failed)
	MiddlewareTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool calls forwarded to the client.
	// Labels: tool
	ToolCallsTotal *prometheus.CounterVec
}

// NewStreamingMetrics creates all metrics and registers them with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
//
// # Examples
//
//	metrics := observability.NewStreamingMetrics(prometheus.DefaultRegisterer)
//
// # Limitations
//
//   - Panics if the same registerer already holds these metrics.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of finished streams by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "frames_total",
				Help:      "Total protocol frames written by type",
			},
			[]string{"endpoint", "type"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by code and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		MiddlewareTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "intent",
				Name:      "middleware_total",
				Help:      "Total intent middleware runs by outcome",
			},
			[]string{"middleware", "outcome"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tool_calls_total",
				Help:      "Total tool calls forwarded to clients",
			},
			[]string{"tool"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLLMError indicates the model source failed.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTransport indicates a write to the client failed.
	ErrorCodeTransport ErrorCode = "transport"

	// ErrorCodePersistence indicates the user message could not be stored.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeProtocol indicates a model event broke tool pairing.
	ErrorCodeProtocol ErrorCode = "protocol"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a streaming endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the chat streaming endpoint.
	EndpointChatStream Endpoint = "chat_stream"
)

// =============================================================================
// Outcomes
// =============================================================================

// Status is the final outcome of a stream.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// MiddlewareOutcome is the result of one intent middleware run.
type MiddlewareOutcome string

const (
	MiddlewareSkipped MiddlewareOutcome = "skipped"
	MiddlewareHandled MiddlewareOutcome = "handled"
	MiddlewareFailed  MiddlewareOutcome = "failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a finished stream.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, status Status) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), string(status)).Inc()
}

// RecordFrame records one frame written to the client.
func (m *StreamingMetrics) RecordFrame(endpoint Endpoint, frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(string(endpoint), frameType).Inc()
}

// RecordError records a streaming error.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *StreamingMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, status Status) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), string(status)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *StreamingMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordMiddleware records one intent middleware run.
func (m *StreamingMetrics) RecordMiddleware(name string, outcome MiddlewareOutcome) {
	if m == nil {
		return
	}
	m.MiddlewareTotal.WithLabelValues(name, string(outcome)).Inc()
}

// RecordToolCall records a tool call forwarded to the client.
func (m *StreamingMetrics) RecordToolCall(tool string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool).Inc()
}
