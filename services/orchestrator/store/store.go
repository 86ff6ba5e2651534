// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists chats and their messages.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChatNotFound is returned when a chat id does not exist.
var ErrChatNotFound = errors.New("chat not found")

// Chat is a conversation container.
type Chat struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
}

// Message is one persisted chat message.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// Store persists chats and messages. Implementations are safe for
// concurrent use.
type Store interface {
	CreateChat(ctx context.Context, title string) (*Chat, error)
	GetChat(ctx context.Context, chatID string) (*Chat, error)

	// ListChats returns every chat, newest first.
	ListChats(ctx context.Context) ([]Chat, error)

	// DeleteChat removes a chat together with its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// AppendMessage adds a message to an existing chat.
	AppendMessage(ctx context.Context, chatID, role, content string) (*Message, error)

	// ListMessages returns a chat's messages oldest first.
	ListMessages(ctx context.Context, chatID string) ([]Message, error)

	Close() error
}

// clock hands out strictly increasing timestamps so messages written in the
// same nanosecond still sort in write order.
type clock struct {
	mu   sync.Mutex
	last int64
}

func (c *clock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// sortChats orders chats newest first, breaking ties by id so the order is
// stable.
func sortChats(chats []Chat) {
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedAt != chats[j].CreatedAt {
			return chats[i].CreatedAt > chats[j].CreatedAt
		}
		return chats[i].ID < chats[j].ID
	})
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]Chat
	messages map[string][]Message
	clock    clock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]Chat),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) CreateChat(_ context.Context, title string) (*Chat, error) {
	chat := Chat{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UnixMilli()}
	m.mu.Lock()
	m.chats[chat.ID] = chat
	m.mu.Unlock()
	return &chat, nil
}

func (m *MemoryStore) GetChat(_ context.Context, chatID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return &chat, nil
}

func (m *MemoryStore) ListChats(_ context.Context) ([]Chat, error) {
	m.mu.RLock()
	out := make([]Chat, 0, len(m.chats))
	for _, chat := range m.chats {
		out = append(out, chat)
	}
	m.mu.RUnlock()
	sortChats(out)
	return out, nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(m.chats, chatID)
	delete(m.messages, chatID)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, chatID, role, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}
	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: m.clock.next() / int64(time.Millisecond),
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	return &msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, chatID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}
	return append([]Message{}, m.messages[chatID]...), nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
