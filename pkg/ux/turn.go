// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

var (
	// ErrTurnInFlight is returned by Submit while another turn is running.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrEmptyMessage is returned by Submit for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// ChatMessage is one entry of the visible conversation.
type ChatMessage struct {
	Role    string
	Content string

	// IsError marks the block rendered for a failed turn. Error blocks are
	// shown but never sent back as history.
	IsError bool
}

// TurnSnapshot is the view state published after every change.
type TurnSnapshot struct {
	Messages  []ChatMessage
	Streaming string
	State     TranscriptState
	Busy      bool
}

// TurnConfig wires a TurnController.
type TurnConfig struct {
	ChatID    string
	Transport ChatTransport
	Store     MessageStore

	// Reader defaults to NewStreamReader(0, Logger).
	Reader StreamReader

	// History seeds the conversation, e.g. from ChatClient.ListMessages.
	History []ChatMessage

	// OnUpdate, if set, receives a snapshot after every state change. It is
	// called from the submitting goroutine without locks held.
	OnUpdate func(TurnSnapshot)

	// OnComplete, if set, receives each committed assistant message.
	OnComplete func(ChatMessage)

	Logger *slog.Logger
}

// =============================================================================
// Interface Definition
// =============================================================================

// TurnController runs request/response turns for one chat.
//
// # Description
//
// One turn at a time: Submit adds the user message optimistically, streams
// the reply through a StreamReader into a TranscriptReconstructor, and
// persists the assistant message exactly once when the transcript
// completes. Any failure rolls the conversation back to its pre-turn state
// and appends a visible error block. Cancelling the context abandons the
// turn quietly: the reader is released and nothing is persisted.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Submit calls are rejected with
// ErrTurnInFlight rather than queued.
type TurnController interface {
	// Submit runs one turn for text. It blocks until the turn reaches a
	// terminal state or ctx is cancelled.
	//
	// # Outputs
	//
	//   - error: ErrEmptyMessage, ErrTurnInFlight, or the failure that was
	//     rendered as an error block. Nil on success and on cancellation.
	Submit(ctx context.Context, text string) error

	// Messages returns a copy of the visible conversation.
	Messages() []ChatMessage

	// Busy reports whether a turn is in flight.
	Busy() bool
}

// =============================================================================
// Struct Definition
// =============================================================================

type turnController struct {
	cfg    TurnConfig
	logger *slog.Logger

	mu        sync.Mutex
	busy      bool
	messages  []ChatMessage
	streaming string
	state     TranscriptState
}

// NewTurnController creates a controller for cfg.ChatID.
func NewTurnController(cfg TurnConfig) (TurnController, error) {
	if cfg.ChatID == "" {
		return nil, errors.New("chat id is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("message store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Reader == nil {
		cfg.Reader = NewStreamReader(0, logger)
	}
	return &turnController{
		cfg:      cfg,
		logger:   logger.With("chatId", cfg.ChatID),
		messages: append([]ChatMessage(nil), cfg.History...),
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// Submit implements TurnController.
func (c *turnController) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.busy = true
	preTurn := append([]ChatMessage(nil), c.messages...)
	c.messages = append(c.messages, ChatMessage{Role: protocol.RoleUser, Content: text})
	c.streaming = ""
	c.state = StateIdle
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.streaming = ""
		c.mu.Unlock()
		c.notify()
	}()

	req := protocol.ChatRequest{
		Messages:   historyOf(preTurn),
		NewMessage: text,
		ChatID:     c.cfg.ChatID,
	}

	transcript, err := c.stream(ctx, req)
	if ctx.Err() != nil {
		c.logger.Info("Turn cancelled", "reason", ctx.Err())
		return nil
	}
	if err != nil {
		c.rollback(preTurn, err)
		return err
	}

	assistant := ChatMessage{Role: protocol.RoleAssistant, Content: transcript}
	if err := c.commit(ctx, assistant); err != nil {
		c.rollback(preTurn, err)
		return err
	}
	return nil
}

// stream runs the read loop and returns the completed transcript.
func (c *turnController) stream(ctx context.Context, req protocol.ChatRequest) (string, error) {
	body, err := c.cfg.Transport.Open(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer body.Close()

	rec := NewTranscriptReconstructor(c.logger)
	readErr := c.cfg.Reader.Read(ctx, body, func(f protocol.Frame) error {
		rec.Apply(f)
		c.mu.Lock()
		c.streaming = rec.Text()
		c.state = rec.State()
		c.mu.Unlock()
		c.notify()
		return nil
	})
	if readErr != nil {
		rec.Abort(readErr)
	} else {
		rec.Abort(ErrStreamIncomplete)
	}

	c.mu.Lock()
	c.state = rec.State()
	c.mu.Unlock()

	if rec.State() == StateCompleted {
		return rec.Text(), nil
	}
	return "", rec.Err()
}

// commit persists the assistant message. The reader stops at the first
// terminal frame, so it runs at most once per turn.
func (c *turnController) commit(ctx context.Context, msg ChatMessage) error {
	if err := c.cfg.Store.SaveMessage(ctx, c.cfg.ChatID, protocol.Message{
		Role:    msg.Role,
		Content: msg.Content,
	}); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	if c.cfg.OnComplete != nil {
		c.cfg.OnComplete(msg)
	}
	return nil
}

// rollback restores the pre-turn conversation and appends an error block.
func (c *turnController) rollback(preTurn []ChatMessage, err error) {
	c.logger.Error("Turn failed", "error", err)

	message := err.Error()
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		message = streamErr.Message
	}

	c.mu.Lock()
	c.messages = append(preTurn, ChatMessage{
		Role:    protocol.RoleAssistant,
		Content: RenderErrorBlock(message),
		IsError: true,
	})
	c.state = StateFailed
	c.mu.Unlock()
}

// Messages implements TurnController.
func (c *turnController) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.messages...)
}

// Busy implements TurnController.
func (c *turnController) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *turnController) notify() {
	if c.cfg.OnUpdate == nil {
		return
	}
	c.mu.Lock()
	snap := TurnSnapshot{
		Messages:  append([]ChatMessage(nil), c.messages...),
		Streaming: c.streaming,
		State:     c.state,
		Busy:      c.busy,
	}
	c.mu.Unlock()
	c.cfg.OnUpdate(snap)
}

func historyOf(messages []ChatMessage) []protocol.Message {
	history := make([]protocol.Message, 0, len(messages))
	for _, m := range messages {
		if m.IsError {
			continue
		}
		history = append(history, protocol.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ TurnController = (*turnController)(nil)
