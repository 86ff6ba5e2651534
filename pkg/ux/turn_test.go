// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// =============================================================================
// Mocks
// =============================================================================

type mockTransport struct {
	mu       sync.Mutex
	OpenFunc func(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error)
	requests []protocol.ChatRequest
}

func (m *mockTransport) Open(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.OpenFunc(ctx, req)
}

func streamOf(raw []byte) func(context.Context, protocol.ChatRequest) (io.ReadCloser, error) {
	return func(context.Context, protocol.ChatRequest) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
}

type mockStore struct {
	mu      sync.Mutex
	saved   []protocol.Message
	SaveErr error
}

func (m *mockStore) SaveMessage(_ context.Context, _ string, msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saved = append(m.saved, msg)
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// ctxBody yields data once, then blocks until ctx is cancelled.
type ctxBody struct {
	ctx    context.Context
	data   []byte
	sent   chan struct{}
	closed bool
}

func (b *ctxBody) Read(p []byte) (int, error) {
	if len(b.data) > 0 {
		n := copy(p, b.data)
		b.data = b.data[n:]
		if len(b.data) == 0 {
			close(b.sent)
		}
		return n, nil
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *ctxBody) Close() error {
	b.closed = true
	return nil
}

func newController(t *testing.T, transport ChatTransport, store MessageStore, history ...ChatMessage) TurnController {
	t.Helper()
	c, err := NewTurnController(TurnConfig{
		ChatID:    "chat-1",
		Transport: transport,
		Store:     store,
		History:   history,
	})
	if err != nil {
		t.Fatalf("NewTurnController: %v", err)
	}
	return c
}

// =============================================================================
// Tests
// =============================================================================

func TestTurnController_Submit_Success(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t,
		protocol.Connected(), protocol.Token("Hi"), protocol.Token(" there"), protocol.Done(),
	))}
	store := &mockStore{}

	var snapshots []TurnSnapshot
	c, _ := NewTurnController(TurnConfig{
		ChatID:    "chat-1",
		Transport: transport,
		Store:     store,
		OnUpdate:  func(s TurnSnapshot) { snapshots = append(snapshots, s) },
	})

	if err := c.Submit(context.Background(), "  Hello  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant, got %+v", msgs)
	}
	if msgs[0].Content != "Hello" || msgs[1].Content != "Hi there" {
		t.Errorf("unexpected conversation: %+v", msgs)
	}
	if store.count() != 1 || store.saved[0].Role != protocol.RoleAssistant {
		t.Errorf("expected one assistant message persisted, got %+v", store.saved)
	}
	if c.Busy() {
		t.Error("controller should not be busy after the turn")
	}

	req := transport.requests[0]
	if req.NewMessage != "Hello" || req.ChatID != "chat-1" || len(req.Messages) != 0 {
		t.Errorf("unexpected request: %+v", req)
	}

	if len(snapshots) < 2 || !snapshots[0].Busy {
		t.Fatalf("expected busy snapshot first, got %+v", snapshots)
	}
	if last := snapshots[len(snapshots)-1]; last.Busy || last.Streaming != "" {
		t.Errorf("expected idle final snapshot, got %+v", last)
	}
}

func TestTurnController_Submit_DoubleDoneCommitsOnce(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t,
		protocol.Connected(), protocol.Token("x"), protocol.Done(), protocol.Done(),
	))}
	store := &mockStore{}
	c := newController(t, transport, store)

	if err := c.Submit(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.count() != 1 {
		t.Errorf("expected exactly one commit, got %d", store.count())
	}
}

func TestTurnController_Submit_ErrorFrameRollsBack(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t,
		protocol.Connected(), protocol.Token("A"), protocol.Token("B"), protocol.Error("boom"),
	))}
	store := &mockStore{}
	prior := ChatMessage{Role: protocol.RoleAssistant, Content: "Earlier answer"}
	c := newController(t, transport, store, prior)

	err := c.Submit(context.Background(), "fail please")
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Message != "boom" {
		t.Fatalf("expected StreamError boom, got %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected prior message + error block, got %+v", msgs)
	}
	if msgs[0] != prior {
		t.Errorf("prior message changed: %+v", msgs[0])
	}
	if !msgs[1].IsError || !strings.Contains(msgs[1].Content, ErrorToolInput) || !strings.Contains(msgs[1].Content, "boom") {
		t.Errorf("expected visible error block, got %+v", msgs[1])
	}
	if store.count() != 0 {
		t.Errorf("failed turn must not persist, got %d", store.count())
	}
}

func TestTurnController_Submit_ErrorBlocksNotSentAsHistory(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t, protocol.Connected(), protocol.Done()))}
	c := newController(t, transport, &mockStore{},
		ChatMessage{Role: protocol.RoleUser, Content: "q"},
		ChatMessage{Role: protocol.RoleAssistant, Content: RenderErrorBlock("x"), IsError: true},
	)

	if err := c.Submit(context.Background(), "again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := transport.requests[0].Messages; len(got) != 1 || got[0].Content != "q" {
		t.Errorf("expected error block filtered from history, got %+v", got)
	}
}

func TestTurnController_Submit_TransportFailure(t *testing.T) {
	transport := &mockTransport{OpenFunc: func(context.Context, protocol.ChatRequest) (io.ReadCloser, error) {
		return nil, errors.New("server error (500): down")
	}}
	c := newController(t, transport, &mockStore{})

	if err := c.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || !msgs[0].IsError {
		t.Fatalf("expected only the error block, got %+v", msgs)
	}
}

func TestTurnController_Submit_StreamWithoutTerminalFails(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t, protocol.Connected(), protocol.Token("half")))}
	c := newController(t, transport, &mockStore{})

	err := c.Submit(context.Background(), "hello")
	if !errors.Is(err, ErrStreamIncomplete) {
		t.Fatalf("expected ErrStreamIncomplete, got %v", err)
	}
}

func TestTurnController_Submit_StoreFailureRollsBack(t *testing.T) {
	transport := &mockTransport{OpenFunc: streamOf(encodeAll(t, protocol.Connected(), protocol.Token("ok"), protocol.Done()))}
	c := newController(t, transport, &mockStore{SaveErr: errors.New("disk full")})

	if err := c.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected store error")
	}
	if msgs := c.Messages(); len(msgs) != 1 || !msgs[0].IsError {
		t.Fatalf("expected rollback with error block, got %+v", msgs)
	}
}

func TestTurnController_Submit_RejectsEmptyAndConcurrent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body := &ctxBody{ctx: ctx, data: encodeAll(t, protocol.Connected()), sent: make(chan struct{})}
	transport := &mockTransport{OpenFunc: func(context.Context, protocol.ChatRequest) (io.ReadCloser, error) {
		return body, nil
	}}
	c := newController(t, transport, &mockStore{})

	if err := c.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Submit(ctx, "first") }()
	<-body.sent

	if err := c.Submit(context.Background(), "second"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("cancellation should not be an error, got %v", err)
	}
	if !body.closed {
		t.Error("reader must be released on cancellation")
	}
	if c.Busy() {
		t.Error("controller should be idle after cancellation")
	}
	for _, m := range c.Messages() {
		if m.Role == protocol.RoleAssistant {
			t.Errorf("nothing should be committed on cancellation, got %+v", m)
		}
	}
}
