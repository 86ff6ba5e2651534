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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/zynk/services/orchestrator/datatypes"
	"github.com/AleutianAI/zynk/services/orchestrator/store"
)

// DefaultChatTitle names chats created without a title.
const DefaultChatTitle = "New chat"

// ChatHandler serves chat and message persistence.
//
// # Description
//
// The streaming endpoint records the user's message itself; clients commit
// the assistant's reply through AppendMessage once the stream completes.
type ChatHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler. logger may be nil.
func NewChatHandler(s store.Store, logger *slog.Logger) *ChatHandler {
	if s == nil {
		panic("NewChatHandler: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{store: s, logger: logger}
}

// CreateChat handles POST /v1/chats.
//
// # Description
//
// Creates a chat. The body is optional; an empty title becomes
// DefaultChatTitle.
//
// # Outputs
//
//   - 201 Created: the chat, {"id":"...","title":"...","createdAt":1735817400000}
//   - 400 Bad Request: malformed body or title too long
//   - 500 Internal Server Error: store failure
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req datatypes.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: datatypes.ValidationMessage(err)})
		return
	}
	if req.Title == "" {
		req.Title = DefaultChatTitle
	}

	chat, err := h.store.CreateChat(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("Failed to create chat", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to create chat"})
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// GetChat handles GET /v1/chats/:chatId.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.store.GetChat(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		h.storeError(c, "Failed to get chat", err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// ListChats handles GET /v1/chats.
//
// # Outputs
//
//   - 200 OK: {"chats":[...]} newest first
//   - 500 Internal Server Error: store failure
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.store.ListChats(c.Request.Context())
	if err != nil {
		h.storeError(c, "Failed to list chats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// DeleteChat handles DELETE /v1/chats/:chatId. The chat's messages go with
// it.
//
// # Outputs
//
//   - 204 No Content: deleted
//   - 404 Not Found: unknown chat
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.store.DeleteChat(c.Request.Context(), c.Param("chatId")); err != nil {
		h.storeError(c, "Failed to delete chat", err)
		return
	}
	h.logger.Info("Chat deleted", "chatId", c.Param("chatId"))
	c.Status(http.StatusNoContent)
}

// ListMessages handles GET /v1/chats/:chatId/messages.
//
// # Outputs
//
//   - 200 OK: {"messages":[...]} oldest first
//   - 404 Not Found: unknown chat
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.store.ListMessages(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		h.storeError(c, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// AppendMessage handles POST /v1/chats/:chatId/messages.
//
// # Outputs
//
//   - 201 Created: the stored message
//   - 400 Bad Request: invalid role or empty content
//   - 404 Not Found: unknown chat
func (h *ChatHandler) AppendMessage(c *gin.Context) {
	var req datatypes.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: datatypes.ValidationMessage(err)})
		return
	}

	msg, err := h.store.AppendMessage(c.Request.Context(), c.Param("chatId"), req.Role, req.Content)
	if err != nil {
		h.storeError(c, "Failed to append message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) storeError(c *gin.Context, msg string, err error) {
	if errors.Is(err, store.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "chat not found"})
		return
	}
	h.logger.Error(msg, "error", err, "chatId", c.Param("chatId"))
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
}
