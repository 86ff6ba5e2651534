// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr string
	}{
		{
			name: "valid without history",
			req:  ChatRequest{NewMessage: "Hello", ChatID: "c-1"},
		},
		{
			name: "valid with history",
			req: ChatRequest{
				Messages:   []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
				NewMessage: "search for honda civic near 32789",
				ChatID:     "c-1",
			},
		},
		{
			name:    "missing newMessage",
			req:     ChatRequest{ChatID: "c-1"},
			wantErr: "newMessage is required",
		},
		{
			name:    "blank newMessage",
			req:     ChatRequest{NewMessage: "   ", ChatID: "c-1"},
			wantErr: "newMessage is required",
		},
		{
			name:    "missing chatId",
			req:     ChatRequest{NewMessage: "Hello"},
			wantErr: "chatId is required",
		},
		{
			name:    "oversized newMessage",
			req:     ChatRequest{NewMessage: strings.Repeat("x", MaxMessageContentBytes+1), ChatID: "c-1"},
			wantErr: "newMessage exceeds 32768 bytes",
		},
		{
			name: "bad history role",
			req: ChatRequest{
				Messages:   []Message{{Role: "tool", Content: "x"}},
				NewMessage: "Hello",
				ChatID:     "c-1",
			},
			wantErr: "role must be one of: user assistant system",
		},
		{
			name:    "too much history",
			req:     ChatRequest{Messages: make([]Message, MaxMessagesPerRequest+1), NewMessage: "Hello", ChatID: "c-1"},
			wantErr: "messages exceeds maximum of 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, ValidationMessage(err))
		})
	}
}

func TestChatRequest_History(t *testing.T) {
	req := ChatRequest{
		Messages:   []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}},
		NewMessage: "c",
		ChatID:     "c-1",
	}
	msgs := req.History()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "b", msgs[1].Content)

	assert.Empty(t, (&ChatRequest{}).History())
}

func TestAppendMessageRequest_Validate(t *testing.T) {
	assert.NoError(t, (&AppendMessageRequest{Role: "assistant", Content: "Hi"}).Validate())

	err := (&AppendMessageRequest{Role: "bot", Content: "Hi"}).Validate()
	require.Error(t, err)
	assert.Equal(t, "role must be one of: user assistant system", ValidationMessage(err))

	err = (&AppendMessageRequest{Role: "user"}).Validate()
	require.Error(t, err)
	assert.Equal(t, "content is required", ValidationMessage(err))
}

func TestCreateChatRequest_Validate(t *testing.T) {
	assert.NoError(t, (&CreateChatRequest{Title: "cars"}).Validate())
	assert.NoError(t, (&CreateChatRequest{}).Validate())
	assert.Error(t, (&CreateChatRequest{Title: strings.Repeat("t", MaxTitleBytes+1)}).Validate())
}

func TestValidationMessage_NonValidatorError(t *testing.T) {
	assert.Equal(t, "invalid request", ValidationMessage(assert.AnError))
}
