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
	"errors"
	"io"
	"reflect"
	"testing"
	"time"
)

// drain reads a stream to completion and returns its events and the
// terminal error (nil for a clean io.EOF).
func drain(t *testing.T, stream EventStream) ([]Event, error) {
	t.Helper()
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestScriptedSource_ReplaysInOrder(t *testing.T) {
	src := &ScriptedSource{Events: []Event{
		TokenEvent{Text: "a"},
		ToolStartEvent{Tool: "t", Input: []byte(`{}`)},
		ToolEndEvent{Tool: "t", Output: []byte(`1`)},
		TokenEvent{Text: "b"},
	}}

	stream, err := src.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drain(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(events, src.Events) {
		t.Errorf("events = %#v, want %#v", events, src.Events)
	}

	calls := src.Calls()
	if len(calls) != 1 || calls[0][0].Content != "hi" {
		t.Errorf("calls = %#v", calls)
	}
}

func TestScriptedSource_ErrorAfterEvents(t *testing.T) {
	boom := errors.New("boom")
	src := &ScriptedSource{Events: []Event{TokenEvent{Text: "partial"}}, Err: boom}

	stream, _ := src.Stream(context.Background(), nil)
	events, err := drain(t, stream)
	if len(events) != 1 {
		t.Errorf("expected 1 event before the error, got %d", len(events))
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestChanStream_CloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	stream := startStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		defer close(stopped)
		for {
			if err := emit(TokenEvent{Text: "x"}); err != nil {
				return err
			}
		}
	})

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	stream.Close()
	stream.Close()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after Close")
	}
}

func TestChanStream_NextHonoursContext(t *testing.T) {
	stream := startStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestChanStream_RecoversPanic(t *testing.T) {
	stream := startStream(context.Background(), func(ctx context.Context, emit emitFunc) error {
		panic("kaboom")
	})
	_, err := drain(t, stream)
	if err == nil {
		t.Fatal("expected an error from a panicking producer")
	}
}

func TestEchoSource(t *testing.T) {
	stream, _ := EchoSource{}.Stream(context.Background(), []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "hello world"},
	})
	events, err := drain(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	for _, ev := range events {
		text += ev.(TokenEvent).Text
	}
	if text != "You said: hello world" {
		t.Errorf("text = %q", text)
	}
}
