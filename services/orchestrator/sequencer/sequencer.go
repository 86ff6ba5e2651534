// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sequencer drives one streamed chat turn on the server.
//
// # Description
//
// Run turns a model event stream into protocol frames with a fixed shape:
//
//	connected
//	token* and (tool_start tool_end)* in model order
//	done | error
//
// The first frame is always connected. Exactly one terminal frame is sent
// unless the client has gone away, in which case nothing more is written.
// Tool calls are correlated by adjacency, so at most one may be open at a
// time; the sequencer drops a second tool_start or a stray tool_end before
// it reaches the wire.
//
// # Flow
//
//  1. Write connected
//  2. Record the user message (failure is logged, never fatal)
//  3. Run the intent middleware chain (failures are narrated, never fatal)
//  4. Build model input: system prompt, trimmed history, new message,
//     middleware additions
//  5. Forward model events until io.EOF or failure
//  6. Write done, or error (optionally followed by done)
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/zynk/pkg/protocol"
	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/intent"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
	"github.com/AleutianAI/zynk/services/orchestrator/store"
)

// DefaultHistoryTokenBudget bounds the history sent to the model.
const DefaultHistoryTokenBudget = 1000

// clientErrorMessage is the only error text clients ever see.
const clientErrorMessage = "An error occurred while processing your request"

// incompleteToolOutput closes a tool call the model never finished.
const incompleteToolOutput = `{"error":"tool call did not complete"}`

// FrameWriter is the write side of the transport.
type FrameWriter interface {
	WriteFrame(frame protocol.Frame) error
}

// MessageRecorder persists chat messages.
type MessageRecorder interface {
	AppendMessage(ctx context.Context, chatID, role, content string) (*store.Message, error)
}

// Config tunes a Sequencer.
type Config struct {
	// SystemPrompt is prepended to every model call when non-empty.
	SystemPrompt string

	// HistoryTokenBudget caps the estimated tokens of history plus the new
	// message. Zero uses DefaultHistoryTokenBudget, negative disables
	// trimming.
	HistoryTokenBudget int

	// EmitDoneAfterError writes done after an error frame.
	EmitDoneAfterError bool
}

// Turn is one request to the sequencer.
type Turn struct {
	ChatID     string
	UserID     string
	History    []llm.Message
	NewMessage string
}

// Outcome summarizes a finished turn for the caller's metrics and logs.
type Outcome struct {
	Status observability.Status

	// Code classifies a failure. Empty on success.
	Code observability.ErrorCode

	// Err is the underlying failure, never sent to the client.
	Err error

	Tokens       int
	ToolCalls    int
	DroppedTools int

	// FirstToken is when the first token frame was written. Zero if none.
	FirstToken time.Time
}

// Sequencer is safe for concurrent use; each Run owns its own state.
type Sequencer struct {
	model    llm.ModelSource
	recorder MessageRecorder
	chain    *intent.Chain
	metrics  *observability.StreamingMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config
}

// New creates a Sequencer. recorder, chain, metrics and logger may be nil.
func New(model llm.ModelSource, recorder MessageRecorder, chain *intent.Chain,
	metrics *observability.StreamingMetrics, logger *slog.Logger, cfg Config) *Sequencer {
	if model == nil {
		panic("sequencer.New: model must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryTokenBudget == 0 {
		cfg.HistoryTokenBudget = DefaultHistoryTokenBudget
	}
	return &Sequencer{
		model:    model,
		recorder: recorder,
		chain:    chain,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("zynk.orchestrator.sequencer"),
		cfg:      cfg,
	}
}

// Run streams one turn to w. It returns after the terminal frame is written,
// the client disconnects (ctx done) or a write fails.
func (s *Sequencer) Run(ctx context.Context, turn Turn, w FrameWriter) Outcome {
	ctx, span := s.tracer.Start(ctx, "sequencer.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.id", turn.ChatID),
		attribute.String("model.backend", s.model.Name()),
		attribute.Int("request.history_count", len(turn.History)),
	)

	r := &run{seq: s, ctx: ctx, w: w, logger: s.logger.With("chatId", turn.ChatID)}
	r.execute(turn)

	span.SetAttributes(
		attribute.Int("stream.token_count", r.out.Tokens),
		attribute.Int("stream.tool_calls", r.out.ToolCalls),
		attribute.String("stream.status", string(r.out.Status)),
	)
	if r.out.Err != nil && r.out.Status != observability.StatusCanceled {
		span.RecordError(r.out.Err)
		span.SetStatus(codes.Error, string(r.out.Code))
	} else if r.out.Status == observability.StatusSuccess {
		span.SetStatus(codes.Ok, "stream completed")
	}
	return r.out
}

// run is the per-turn state.
type run struct {
	seq    *Sequencer
	ctx    context.Context
	w      FrameWriter
	logger *slog.Logger
	out    Outcome

	pendingTool string
	toolOpen    bool
}

func (r *run) execute(turn Turn) {
	if err := r.write(protocol.Connected()); err != nil {
		r.transportFailure(err)
		return
	}

	r.recordUserMessage(turn)

	augment, err := r.seq.chain.Run(r.ctx, intent.Turn{
		ChatID:  turn.ChatID,
		UserID:  turn.UserID,
		Message: turn.NewMessage,
	}, r.writeToken)
	if err != nil {
		if r.canceled(err) {
			return
		}
		r.transportFailure(err)
		return
	}

	stream, err := r.openStream(r.modelInput(turn, augment))
	if err != nil {
		r.finish(err)
		return
	}
	defer stream.Close()

	for {
		ev, err := r.next(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			r.finish(err)
			return
		}
		if err := r.forward(ev); err != nil {
			if r.canceled(err) {
				return
			}
			r.transportFailure(err)
			return
		}
	}
}

// openStream starts the model call. A panicking source becomes a stream
// error so the client still gets a terminal frame.
func (r *run) openStream(input []llm.Message) (stream llm.EventStream, err error) {
	defer func() {
		if p := recover(); p != nil {
			stream, err = nil, fmt.Errorf("model source panic: %v", p)
		}
	}()
	return r.seq.model.Stream(r.ctx, input)
}

func (r *run) next(stream llm.EventStream) (ev llm.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			ev, err = nil, fmt.Errorf("model stream panic: %v", p)
		}
	}()
	return stream.Next(r.ctx)
}

// recordUserMessage stores the inbound message before the model runs.
func (r *run) recordUserMessage(turn Turn) {
	if r.seq.recorder == nil {
		return
	}
	if _, err := r.seq.recorder.AppendMessage(r.ctx, turn.ChatID, protocol.RoleUser, turn.NewMessage); err != nil {
		r.logger.Error("Failed to record user message", "error", err)
		r.seq.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodePersistence)
	}
}

func (r *run) modelInput(turn Turn, augment []llm.Message) []llm.Message {
	conv := make([]llm.Message, 0, len(turn.History)+1)
	for _, m := range turn.History {
		if m.Role == protocol.RoleSystem {
			continue
		}
		conv = append(conv, m)
	}
	conv = append(conv, llm.Message{Role: protocol.RoleUser, Content: turn.NewMessage})
	conv = llm.TrimHistory(conv, r.seq.cfg.HistoryTokenBudget)

	msgs := make([]llm.Message, 0, len(conv)+len(augment)+1)
	if r.seq.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: protocol.RoleSystem, Content: r.seq.cfg.SystemPrompt})
	}
	msgs = append(msgs, conv...)
	return append(msgs, augment...)
}

// forward translates one model event. Protocol violations are dropped.
func (r *run) forward(ev llm.Event) error {
	switch e := ev.(type) {
	case llm.TokenEvent:
		if e.Text == "" {
			return nil
		}
		return r.writeToken(e.Text)

	case llm.ToolStartEvent:
		if r.toolOpen {
			r.dropTool("tool_start while another tool is running", e.Tool)
			return nil
		}
		frame, err := protocol.ToolStart(e.Tool, e.Input)
		if err != nil {
			frame, _ = protocol.ToolStart(e.Tool, string(e.Input))
		}
		if err := r.write(frame); err != nil {
			return err
		}
		r.toolOpen = true
		r.pendingTool = e.Tool
		r.out.ToolCalls++
		r.seq.metrics.RecordToolCall(e.Tool)
		return nil

	case llm.ToolEndEvent:
		if !r.toolOpen {
			r.dropTool("tool_end without a running tool", e.Tool)
			return nil
		}
		if e.Tool != r.pendingTool {
			r.logger.Warn("Tool end name differs from start", "started", r.pendingTool, "ended", e.Tool)
		}
		frame, err := protocol.ToolEnd(e.Tool, e.Output)
		if err != nil {
			frame, _ = protocol.ToolEnd(e.Tool, string(e.Output))
		}
		if err := r.write(frame); err != nil {
			return err
		}
		r.toolOpen = false
		r.pendingTool = ""
		return nil

	default:
		r.logger.Warn("Ignoring unknown model event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (r *run) dropTool(reason, tool string) {
	r.out.DroppedTools++
	r.logger.Warn("Dropping out-of-order tool event", "reason", reason, "tool", tool)
	r.seq.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeProtocol)
}

// finish writes the terminal frame for a model stream that ended with err.
func (r *run) finish(err error) {
	if err != nil && r.canceled(err) {
		return
	}

	if r.toolOpen {
		frame, _ := protocol.ToolEnd(r.pendingTool, []byte(incompleteToolOutput))
		if werr := r.write(frame); werr != nil {
			r.transportFailure(werr)
			return
		}
		r.toolOpen = false
	}

	if err == nil {
		if werr := r.write(protocol.Done()); werr != nil {
			r.transportFailure(werr)
			return
		}
		r.out.Status = observability.StatusSuccess
		return
	}

	r.logger.Error("Model stream failed", "error", err, "model", r.seq.model.Name(), "tokenCount", r.out.Tokens)
	r.out.Status = observability.StatusError
	r.out.Code = observability.ErrorCodeLLMError
	r.out.Err = err

	if werr := r.write(protocol.Error(sanitizeErrorForClient(err))); werr != nil {
		r.logger.Debug("Failed to write error frame", "error", werr)
		return
	}
	if r.seq.cfg.EmitDoneAfterError {
		if werr := r.write(protocol.Done()); werr != nil {
			r.logger.Debug("Failed to write done after error", "error", werr)
		}
	}
}

// canceled records a client disconnect. Once the request context is done
// every failure is attributed to the disconnect.
func (r *run) canceled(err error) bool {
	if r.ctx.Err() == nil {
		return false
	}
	r.out.Status = observability.StatusCanceled
	r.out.Code = observability.ErrorCodeClientDisconnect
	r.out.Err = err
	r.logger.Info("Client disconnected, stopping stream", "tokenCount", r.out.Tokens)
	return true
}

func (r *run) transportFailure(err error) {
	r.out.Status = observability.StatusError
	r.out.Code = observability.ErrorCodeTransport
	r.out.Err = err
	r.logger.Warn("Stream write failed", "error", err)
}

func (r *run) writeToken(text string) error {
	if err := r.write(protocol.Token(text)); err != nil {
		return err
	}
	if r.out.FirstToken.IsZero() {
		r.out.FirstToken = time.Now()
	}
	r.out.Tokens++
	return nil
}

// write refuses to touch the transport once the client is gone.
func (r *run) write(frame protocol.Frame) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.w.WriteFrame(frame)
}

// sanitizeErrorForClient keeps internal details (hosts, keys, stack traces)
// out of error frames. The full error is logged by the caller.
func sanitizeErrorForClient(err error) string {
	slog.Debug("Sanitizing error for client", "original_error", err)
	return clientErrorMessage
}
