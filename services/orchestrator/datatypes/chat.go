// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response bodies for the
// orchestrator's HTTP API.
package datatypes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/zynk/services/llm"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of history messages in a
	// request.
	MaxMessagesPerRequest = 100

	// MaxTitleBytes bounds chat titles.
	MaxTitleBytes = 200
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("nonblank", validateNonBlank)
}

// validateMaxBytes checks byte length (not rune count) so large payloads are
// rejected before they reach the model.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// Message is one history entry in a ChatRequest.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// Messages is the prior conversation, NewMessage the user's new input and
// ChatID the conversation it belongs to. The JSON shape matches
// protocol.ChatRequest, which clients send.
//
// # Validation
//
//   - NewMessage: required, not blank, max 32KB
//   - ChatID: required, max 128 bytes
//   - Messages: optional, max 100, each element validated
//
// # Examples
//
//	{"messages":[],"newMessage":"Hello","chatId":"c-1"}
type ChatRequest struct {
	Messages   []Message `json:"messages" validate:"max=100,dive"`
	NewMessage string    `json:"newMessage" validate:"required,nonblank,maxbytes"`
	ChatID     string    `json:"chatId" validate:"required,nonblank,max=128"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// History returns the prior conversation as model messages.
func (r *ChatRequest) History() []llm.Message {
	out := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// =============================================================================
// Chat and Message Requests
// =============================================================================

// CreateChatRequest is the body of POST /v1/chats.
type CreateChatRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// Validate validates the CreateChatRequest fields.
func (r *CreateChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// AppendMessageRequest is the body of POST /v1/chats/:chatId/messages.
type AppendMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// Validate validates the AppendMessageRequest fields.
func (r *AppendMessageRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationMessage turns a validator error into a short client-facing
// message naming the first failing field, e.g. "newMessage is required".
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := jsonFieldName(fe.StructField())
	switch fe.Tag() {
	case "required", "nonblank":
		return field + " is required"
	case "maxbytes":
		return fmt.Sprintf("%s exceeds %d bytes", field, MaxMessageContentBytes)
	case "max":
		return fmt.Sprintf("%s exceeds maximum of %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "NewMessage":
		return "newMessage"
	case "ChatID":
		return "chatId"
	}
	if structField == "" {
		return structField
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}
