// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults for path.
//
// Description:
//
//	Returns a BadgerConfig with:
//	- SyncWrites enabled for durability
//	- 5-minute GC interval
//	- 50% discard ratio threshold
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Key layout:
//
//	chat/{chatID}                 -> Chat JSON
//	msg/{chatID}/{nanos:020d}/{id} -> Message JSON
//
// Zero-padded timestamps make a prefix scan return messages in write order.
func chatKey(chatID string) []byte { return []byte(chatPrefix + chatID) }

const chatPrefix = "chat/"

func messagePrefix(chatID string) []byte { return []byte("msg/" + chatID + "/") }

func messageKey(chatID string, nanos int64, id string) []byte {
	return []byte(fmt.Sprintf("msg/%s/%020d/%s", chatID, nanos, id))
}

// BadgerStore persists chats in an embedded BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	gcRunner *GCRunner
	clock    clock
}

// OpenBadgerStore opens the database and starts the GC runner if
// GCInterval is configured.
//
// Description:
//
//	Opens a BadgerDB at cfg.Path, or in memory if cfg.InMemory is true.
//	Creates the directory if it doesn't exist.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gcRunner = runner
		runner.Start()
	}
	return s, nil
}

func (s *BadgerStore) CreateChat(ctx context.Context, title string) (*Chat, error) {
	chat := Chat{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(chat)
	if err != nil {
		return nil, err
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(chatKey(chat.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &chat, nil
}

func (s *BadgerStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		return getChat(txn, chatID, &chat)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func getChat(txn *badger.Txn, chatID string, out *Chat) error {
	item, err := txn.Get(chatKey(chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (s *BadgerStore) ListChats(ctx context.Context) ([]Chat, error) {
	out := []Chat{}
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(chatPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chat Chat
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &chat)
			}); err != nil {
				return fmt.Errorf("decode chat %s: %w", it.Item().Key(), err)
			}
			out = append(out, chat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortChats(out)
	return out, nil
}

// DeleteChat removes the chat record first so concurrent appends fail with
// ErrChatNotFound, then drops its messages through a write batch, which
// splits the deletes across transactions as needed.
func (s *BadgerStore) DeleteChat(ctx context.Context, chatID string) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		var chat Chat
		if err := getChat(txn, chatID, &chat); err != nil {
			return err
		}
		return txn.Delete(chatKey(chatID))
	})
	if err != nil {
		return err
	}

	var keys [][]byte
	err = s.withReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan messages of chat %s: %w", chatID, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete messages of chat %s: %w", chatID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete messages of chat %s: %w", chatID, err)
	}
	return nil
}

func (s *BadgerStore) AppendMessage(ctx context.Context, chatID, role, content string) (*Message, error) {
	nanos := s.clock.next()
	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: nanos / int64(time.Millisecond),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		var chat Chat
		if err := getChat(txn, chatID, &chat); err != nil {
			return err
		}
		return txn.Set(messageKey(chatID, nanos, msg.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *BadgerStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	out := []Message{}
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var chat Chat
		if err := getChat(txn, chatID, &chat); err != nil {
			return err
		}

		prefix := messagePrefix(chatID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops garbage collection (if running) and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
	}
	return s.db.Close()
}

// withTxn executes fn within a read-write transaction, committing if fn
// returns nil.
func (s *BadgerStore) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

var _ Store = (*BadgerStore)(nil)

// =============================================================================
// Garbage collection
// =============================================================================

// GCRunner runs periodic value log garbage collection on a BadgerDB.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a garbage collection runner. Call Start() to begin GC
// and Stop() to halt it.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins periodic garbage collection.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop signals the GC goroutine to stop and waits for it to finish.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	// RunValueLogGC returns ErrNoRewrite when nothing needed collecting.
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}
