// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// DefaultChunkSize is the read buffer used per network read.
const DefaultChunkSize = 4096

// FrameCallback receives each decoded frame in wire order. Returning an
// error stops the read.
type FrameCallback func(frame protocol.Frame) error

// =============================================================================
// Interface Definition
// =============================================================================

// StreamReader drives a StreamParser from a byte source.
type StreamReader interface {
	// Read consumes r one chunk at a time, invoking callback for each frame.
	//
	// Parameters:
	//   - ctx: Context for cancellation. Checked between chunks.
	//   - r: The source to read from. Caller is responsible for closing.
	//   - callback: Invoked for each frame. Return error to stop.
	//
	// Returns:
	//   - error: nil when a terminal frame or EOF is reached, otherwise the
	//     error that stopped reading (context, transport, or callback).
	Read(ctx context.Context, r io.Reader, callback FrameCallback) error

	// ReadAll reads the whole stream and returns every frame seen.
	ReadAll(ctx context.Context, r io.Reader) ([]protocol.Frame, error)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chunkStreamReader reads fixed-size chunks and feeds a fresh parser per
// stream. Reads are strictly sequential so frames keep their wire order.
type chunkStreamReader struct {
	chunkSize int
	logger    *slog.Logger
}

// NewStreamReader creates a StreamReader.
//
// Parameters:
//   - chunkSize: bytes per read. Zero or negative uses DefaultChunkSize.
//   - logger: passed to the per-stream parser. Nil uses slog.Default().
//
// Example:
//
//	reader := NewStreamReader(0, nil)
//	err := reader.Read(ctx, resp.Body, reconstructor.Apply)
func NewStreamReader(chunkSize int, logger *slog.Logger) StreamReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &chunkStreamReader{chunkSize: chunkSize, logger: logger}
}

// =============================================================================
// Methods
// =============================================================================

// Read implements StreamReader. It stops at the first terminal frame
// without draining the rest of the source.
func (s *chunkStreamReader) Read(ctx context.Context, r io.Reader, callback FrameCallback) error {
	parser := NewStreamParser(s.logger)
	buf := make([]byte, s.chunkSize)

	deliver := func(frames []protocol.Frame) (bool, error) {
		for _, f := range frames {
			if err := callback(f); err != nil {
				return true, err
			}
			if f.IsTerminal() {
				return true, nil
			}
		}
		return false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if stop, err := deliver(parser.Parse(buf[:n])); stop {
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				_, err := deliver(parser.Flush())
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// ReadAll implements StreamReader.
func (s *chunkStreamReader) ReadAll(ctx context.Context, r io.Reader) ([]protocol.Frame, error) {
	var frames []protocol.Frame
	err := s.Read(ctx, r, func(f protocol.Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*chunkStreamReader)(nil)
