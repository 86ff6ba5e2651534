// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent detects requests in the user's message that are served
// before the model call, such as vehicle searches and PDF reports.
//
// # Description
//
// A Chain runs an ordered list of Middleware against the new user message.
// Each middleware decides independently whether to fire. When it fires it may
// narrate progress to the client through Emit and may add messages to the
// model input. Failures are narrated and logged but never stop the chain or
// the model call that follows. Only a failing Emit, meaning the client is
// gone, ends the chain early.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
)

// Emit sends narration text to the client as a token frame.
type Emit func(text string) error

// Turn is what a middleware sees of the current request.
type Turn struct {
	ChatID  string
	UserID  string
	Message string
}

// Result reports what a middleware did.
type Result struct {
	// Handled is true when the middleware matched and acted.
	Handled bool

	// Augment is appended to the model input, after the history and the
	// new user message.
	Augment []llm.Message
}

// Middleware is one intent matcher.
//
// Handle returns a zero Result when the message does not match. An error
// means the middleware matched but its collaborator failed; by then the
// middleware has already told the user.
type Middleware interface {
	Name() string
	Handle(ctx context.Context, turn Turn, emit Emit) (Result, error)
}

// ErrEmit wraps a failure to write narration to the client.
var ErrEmit = errors.New("intent: emit failed")

// Chain runs middleware in order.
type Chain struct {
	middleware []Middleware
	metrics    *observability.StreamingMetrics
	logger     *slog.Logger
}

// NewChain creates a chain. metrics and logger may be nil.
func NewChain(metrics *observability.StreamingMetrics, logger *slog.Logger, mw ...Middleware) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{middleware: mw, metrics: metrics, logger: logger}
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middleware)
}

// Run executes every middleware and returns the combined augment messages.
// The returned error is non-nil only when emit failed, wrapped in ErrEmit.
func (c *Chain) Run(ctx context.Context, turn Turn, emit Emit) ([]llm.Message, error) {
	if c == nil {
		return nil, nil
	}

	var emitErr error
	guarded := func(text string) error {
		if emitErr != nil {
			return emitErr
		}
		if err := emit(text); err != nil {
			emitErr = fmt.Errorf("%w: %w", ErrEmit, err)
			return emitErr
		}
		return nil
	}

	var augment []llm.Message
	for _, mw := range c.middleware {
		if err := ctx.Err(); err != nil {
			return augment, err
		}

		res, err := c.runOne(ctx, mw, turn, guarded)
		if emitErr != nil {
			return augment, emitErr
		}

		switch {
		case err != nil:
			c.logger.Warn("Intent middleware failed",
				"middleware", mw.Name(), "chatId", turn.ChatID, "error", err)
			c.metrics.RecordMiddleware(mw.Name(), observability.MiddlewareFailed)
			// A partial failure can still have context for the model.
			if res.Handled {
				augment = append(augment, res.Augment...)
			}
		case res.Handled:
			c.metrics.RecordMiddleware(mw.Name(), observability.MiddlewareHandled)
			augment = append(augment, res.Augment...)
		default:
			c.metrics.RecordMiddleware(mw.Name(), observability.MiddlewareSkipped)
		}
	}
	return augment, nil
}

func (c *Chain) runOne(ctx context.Context, mw Middleware, turn Turn, emit Emit) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware %s panicked: %v", mw.Name(), r)
		}
	}()
	return mw.Handle(ctx, turn, emit)
}
