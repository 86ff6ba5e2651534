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
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/AleutianAI/zynk/pkg/protocol"
)

// ErrWriterClosed is returned by FrameWriter methods after Close, or after a
// terminal frame has been written.
var ErrWriterClosed = errors.New("frame writer closed")

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter defines the contract for writing protocol frames to an SSE
// response.
//
// # Description
//
// FrameWriter hides the wire format (data: {json}\n\n) and flushing from the
// code that decides which frames to send. A done frame closes the writer.
// After an error frame the only frame accepted is a single closing done,
// which servers configured to always finish with done rely on.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The heartbeat goroutine
// writes keepalives while the sequencer writes frames.
//
// # Limitations
//
//   - Response headers must be set before the first write
type FrameWriter interface {
	// WriteFrame encodes and flushes a single frame.
	//
	// # Inputs
	//
	//   - frame: Frame to write. Type must be one of the protocol frame types.
	//
	// # Outputs
	//
	//   - error: ErrWriterClosed after done, after Close or for a non-done
	//     frame following an error frame. Otherwise an encode error for
	//     invalid frames, or the underlying write error.
	WriteFrame(frame protocol.Frame) error

	// WriteKeepAlive sends an SSE comment (": ping\n\n").
	//
	// # Description
	//
	// Comments are ignored by parsers but keep proxies and load balancers
	// from timing out an idle connection while the model is thinking.
	//
	// # Outputs
	//
	//   - error: ErrWriterClosed after Close, or the underlying write error.
	WriteKeepAlive() error

	// Close stops all further writes. Safe to call more than once.
	Close()

	// Terminated reports whether a terminal frame has been written.
	Terminated() bool
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseFrameWriter implements FrameWriter for HTTP SSE responses.
//
// # Fields
//
//   - w: Underlying writer
//   - flusher: Flushes after every record
//   - observe: Optional callback invoked with each frame type written
//   - closed: Set by Close, a done frame or a failed write
//   - failed: Set by an error frame
//   - terminated: Set by any terminal frame
//   - mu: Serializes writes
type sseFrameWriter struct {
	w          io.Writer
	flusher    http.Flusher
	observe    func(protocol.FrameType)
	closed     bool
	failed     bool
	terminated bool
	mu         sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewFrameWriter creates a FrameWriter for the given ResponseWriter.
//
// # Description
//
// The caller must set SSE headers via SetSSEHeaders before the first write.
// observe, when non-nil, is called under the writer lock with the type of
// every frame successfully written; handlers use it for metrics.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//   - observe: Optional per-frame callback.
//
// # Outputs
//
//   - FrameWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(c.Writer)
//	fw, err := NewFrameWriter(c.Writer, nil)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
//	    return
//	}
//	fw.WriteFrame(protocol.Connected())
func NewFrameWriter(w http.ResponseWriter, observe func(protocol.FrameType)) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseFrameWriter{w: w, flusher: flusher, observe: observe}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteFrame encodes the frame and flushes it.
func (fw *sseFrameWriter) WriteFrame(frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed || (fw.failed && frame.Type != protocol.FrameDone) {
		return ErrWriterClosed
	}
	if err := fw.writeLocked(data); err != nil {
		fw.closed = true
		return err
	}
	if fw.observe != nil {
		fw.observe(frame.Type)
	}
	switch frame.Type {
	case protocol.FrameError:
		fw.failed = true
		fw.terminated = true
	case protocol.FrameDone:
		fw.closed = true
		fw.terminated = true
	}
	return nil
}

// WriteKeepAlive writes an SSE comment line.
func (fw *sseFrameWriter) WriteKeepAlive() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed || fw.failed {
		return ErrWriterClosed
	}
	return fw.writeLocked([]byte(protocol.KeepAlive))
}

// Close stops further writes.
func (fw *sseFrameWriter) Close() {
	fw.mu.Lock()
	fw.closed = true
	fw.mu.Unlock()
}

// Terminated reports whether a done or error frame was written.
func (fw *sseFrameWriter) Terminated() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.terminated
}

func (fw *sseFrameWriter) writeLocked(data []byte) error {
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fw.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the headers required for Server-Sent Events. Must be called before
// the first frame is written.
//
// Headers set:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// # Inputs
//
//   - w: HTTP ResponseWriter to configure.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
