// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// emitFunc hands one event to the consumer, blocking until it is taken.
type emitFunc func(Event) error

// produceFunc runs a backend turn, emitting events in order. Its return
// value becomes the stream's terminal error (nil means io.EOF).
type produceFunc func(ctx context.Context, emit emitFunc) error

// chanStream turns a push-style producer into a pull-style EventStream.
//
// The channel is unbuffered: the producer only runs ahead of the consumer by
// one event, and done closes only after every sent event was received.
type chanStream struct {
	events    chan Event
	done      chan struct{}
	err       error
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func startStream(parent context.Context, produce produceFunc) EventStream {
	ctx, cancel := context.WithCancel(parent)
	s := &chanStream{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("model source panic: %v", r)
			}
		}()
		s.err = produce(ctx, func(ev Event) error {
			select {
			case s.events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

// Next implements EventStream.
func (s *chanStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements EventStream.
func (s *chanStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

var _ EventStream = (*chanStream)(nil)
