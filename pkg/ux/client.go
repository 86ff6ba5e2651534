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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleutianAI/zynk/pkg/protocol"
	"github.com/google/uuid"
)

// HTTPClient allows injecting a custom or mock HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChatTransport opens the byte stream for one turn.
type ChatTransport interface {
	// Open sends req and returns the streaming response body. The caller
	// must close it. A non-OK status is an error.
	Open(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error)
}

// MessageStore persists finished messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, chatID string, msg protocol.Message) error
}

// ChatInfo describes a chat returned by the server.
type ChatInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
}

// StoredMessage is a persisted message returned by the server.
type StoredMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// =============================================================================
// Struct Definition
// =============================================================================

// ChatClient talks to the orchestrator over HTTP. It is both the
// ChatTransport and the MessageStore of a TurnController.
type ChatClient struct {
	baseURL string
	client  HTTPClient
	logger  *slog.Logger
}

// NewChatClient creates a client for the orchestrator at baseURL.
//
// # Inputs
//
//   - baseURL: server root, e.g. "http://localhost:12210".
//   - client: HTTP client. Nil uses a client without timeout, since a turn
//     can stream for minutes; bound turns with the request context instead.
//   - logger: Nil uses slog.Default().
//
// # Outputs
//
//   - *ChatClient: ready to use.
func NewChatClient(baseURL string, client HTTPClient, logger *slog.Logger) *ChatClient {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// =============================================================================
// Methods
// =============================================================================

// Open implements ChatTransport.
//
// # Description
//
// POSTs the request to /v1/chat/stream and validates the status before
// handing back the body. Non-OK bodies are read and folded into the error.
//
// # Inputs
//
//   - ctx: bounds the whole stream; cancelling it unblocks pending reads.
//   - req: history, new message and chat id.
//
// # Outputs
//
//   - io.ReadCloser: the SSE body.
//   - error: marshal, transport or status failure.
func (c *ChatClient) Open(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	requestID := uuid.NewString()
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/stream", req, map[string]string{
		"Accept":       "text/event-stream",
		"X-Request-Id": requestID,
	})
	if err != nil {
		c.logger.Error("Chat stream request failed", "request_id", requestID, "error", err)
		return nil, err
	}
	if err := c.validateResponse(requestID, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// SaveMessage implements MessageStore.
func (c *ChatClient) SaveMessage(ctx context.Context, chatID string, msg protocol.Message) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/chats/"+url.PathEscape(chatID)+"/messages", msg, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// CreateChat creates a new chat and returns it.
func (c *ChatClient) CreateChat(ctx context.Context, title string) (*ChatInfo, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/chats", map[string]string{"title": title}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp)
	}
	var chat ChatInfo
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns every chat, newest first.
func (c *ChatClient) ListChats(ctx context.Context) ([]ChatInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var body struct {
		Chats []ChatInfo `json:"chats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return body.Chats, nil
}

// DeleteChat removes a chat and its messages.
func (c *ChatClient) DeleteChat(ctx context.Context, chatID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/chats/"+url.PathEscape(chatID), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// ListMessages returns a chat's messages oldest first.
func (c *ChatClient) ListMessages(ctx context.Context, chatID string) ([]StoredMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/chats/"+url.PathEscape(chatID)+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var body struct {
		Messages []StoredMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return body.Messages, nil
}

func (c *ChatClient) do(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *ChatClient) validateResponse(requestID string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err := statusError(resp)
	c.logger.Error("Chat stream server returned error",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"error", err,
	)
	return err
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("server error (%d): failed to read response body", resp.StatusCode)
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, parsed.Error)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var (
	_ ChatTransport = (*ChatClient)(nil)
	_ MessageStore  = (*ChatClient)(nil)
)
