// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"math/rand"
	"reflect"
	"testing"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// =============================================================================
// Helpers
// =============================================================================

func encodeAll(t *testing.T, frames ...protocol.Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		b, err := protocol.Encode(f)
		if err != nil {
			t.Fatalf("encode %s: %v", f.Type, err)
		}
		buf.Write(b)
	}
	return buf.Bytes()
}

func toolStart(t *testing.T, tool string, input any) protocol.Frame {
	t.Helper()
	f, err := protocol.ToolStart(tool, input)
	if err != nil {
		t.Fatalf("tool start: %v", err)
	}
	return f
}

func toolEnd(t *testing.T, tool string, output any) protocol.Frame {
	t.Helper()
	f, err := protocol.ToolEnd(tool, output)
	if err != nil {
		t.Fatalf("tool end: %v", err)
	}
	return f
}

func parseChunks(chunks [][]byte) []protocol.Frame {
	p := NewStreamParser(nil)
	var out []protocol.Frame
	for _, c := range chunks {
		out = append(out, p.Parse(c)...)
	}
	return out
}

func splitEvery(b []byte, n int) [][]byte {
	var chunks [][]byte
	for len(b) > n {
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return append(chunks, b)
}

func sampleStream(t *testing.T) ([]byte, []protocol.Frame) {
	frames := []protocol.Frame{
		protocol.Connected(),
		protocol.Token("Hi"),
		protocol.Token(" there, ñandú 🚗"),
		toolStart(t, "search", map[string]any{"zip": "32789"}),
		toolEnd(t, "search", map[string]any{"num_found": 3}),
		protocol.Token("line\nbreak"),
		protocol.Done(),
	}
	return encodeAll(t, frames...), frames
}

// =============================================================================
// Chunk Invariance
// =============================================================================

func TestStreamParser_SingleChunk(t *testing.T) {
	raw, want := sampleStream(t)
	got := parseChunks([][]byte{raw})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("frames mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestStreamParser_ChunkInvariance_FixedSizes(t *testing.T) {
	raw, want := sampleStream(t)
	for size := 1; size <= len(raw); size++ {
		got := parseChunks(splitEvery(raw, size))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: frames mismatch\n got: %+v\nwant: %+v", size, got, want)
		}
	}
}

func TestStreamParser_ChunkInvariance_RandomPartitions(t *testing.T) {
	raw, want := sampleStream(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var chunks [][]byte
		rest := raw
		for len(rest) > 0 {
			n := rng.Intn(len(rest)) + 1
			// Empty chunks must be harmless too.
			if rng.Intn(10) == 0 {
				chunks = append(chunks, []byte{})
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := parseChunks(chunks)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("partition %d: frames mismatch\n got: %+v\nwant: %+v", i, got, want)
		}
	}
}

// =============================================================================
// Edge Cases
// =============================================================================

func TestStreamParser_NoCompleteLine(t *testing.T) {
	p := NewStreamParser(nil)
	if got := p.Parse([]byte(`data: {"type":"tok`)); len(got) != 0 {
		t.Fatalf("expected no frames, got %d", len(got))
	}
	if got := p.Parse([]byte(`en","token":"x"}`)); len(got) != 0 {
		t.Fatalf("expected no frames before terminator, got %d", len(got))
	}
	got := p.Parse([]byte("\n\n"))
	if len(got) != 1 || got[0].Token != "x" {
		t.Fatalf("expected token frame after terminator, got %+v", got)
	}
}

func TestStreamParser_BlankLineWithoutData(t *testing.T) {
	p := NewStreamParser(nil)
	if got := p.Parse([]byte("\n\n\n\n")); len(got) != 0 {
		t.Fatalf("expected no frames, got %+v", got)
	}
}

func TestStreamParser_MalformedLineBetweenFrames(t *testing.T) {
	raw := []byte("data: {\"type\":\"token\",\"token\":\"A\"}\n\n" +
		"data: {not json}\n\n" +
		"data: {\"type\":\"token\",\"token\":\"B\"}\n\n")

	got := parseChunks([][]byte{raw})
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(got), got)
	}
	if got[0].Token != "A" || got[1].Token != "B" {
		t.Errorf("expected A then B, got %q then %q", got[0].Token, got[1].Token)
	}
}

func TestStreamParser_MergesMultipleDataLines(t *testing.T) {
	raw := []byte("data: {\"type\":\"tool_start\"}\n" +
		"data: {\"tool\":\"search\",\"input\":{\"zip\":\"32789\"}}\n\n")

	got := parseChunks([][]byte{raw})
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].Type != protocol.FrameToolStart || got[0].Tool != "search" {
		t.Errorf("unexpected merged frame: %+v", got[0])
	}
	if string(got[0].Input) != `{"zip":"32789"}` {
		t.Errorf("unexpected input: %s", got[0].Input)
	}
}

func TestStreamParser_IgnoresCommentsAndOtherFields(t *testing.T) {
	raw := []byte(": ping\n\n" +
		"event: token\n" +
		"id: 7\n" +
		"data: {\"type\":\"token\",\"token\":\"ok\"}\n\n" +
		": ping\n\n")

	got := parseChunks([][]byte{raw})
	if len(got) != 1 || got[0].Token != "ok" {
		t.Fatalf("expected single ok token, got %+v", got)
	}
}

func TestStreamParser_CRLFLines(t *testing.T) {
	raw := []byte("data: {\"type\":\"done\"}\r\n\r\n")
	got := parseChunks(splitEvery(raw, 3))
	if len(got) != 1 || got[0].Type != protocol.FrameDone {
		t.Fatalf("expected done frame, got %+v", got)
	}
}

func TestStreamParser_UnknownTypeDropped(t *testing.T) {
	raw := []byte("data: {\"type\":\"status\",\"message\":\"x\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n")
	got := parseChunks([][]byte{raw})
	if len(got) != 1 || got[0].Type != protocol.FrameDone {
		t.Fatalf("expected only done, got %+v", got)
	}
}

func TestStreamParser_Flush(t *testing.T) {
	p := NewStreamParser(nil)
	if got := p.Parse([]byte(`data: {"type":"done"}`)); len(got) != 0 {
		t.Fatalf("expected nothing before flush, got %+v", got)
	}
	got := p.Flush()
	if len(got) != 1 || got[0].Type != protocol.FrameDone {
		t.Fatalf("expected done from flush, got %+v", got)
	}
	if again := p.Flush(); len(again) != 0 {
		t.Fatalf("second flush should be empty, got %+v", again)
	}
}
