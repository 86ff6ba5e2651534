// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// DataPrefix starts every data line of a record.
	DataPrefix = "data: "

	// LineDelimiter separates lines within the stream.
	LineDelimiter = "\n"

	// RecordDelimiter terminates a record (a blank line).
	RecordDelimiter = "\n\n"

	// CommentPrefix starts an SSE comment line, used for keepalives.
	CommentPrefix = ":"

	// KeepAlive is the comment record servers send while the model is idle.
	// Parsers ignore it.
	KeepAlive = ": ping\n\n"
)

var (
	// ErrInvalidFrameType is returned for frames whose type is outside the
	// closed set.
	ErrInvalidFrameType = errors.New("invalid frame type")

	// ErrMissingDataPrefix is returned when a record does not start with
	// the data prefix.
	ErrMissingDataPrefix = errors.New("record missing data prefix")
)

// Encode serializes a frame into one wire record: the data prefix, the JSON
// object, and the record delimiter. JSON string escaping keeps newlines in
// payloads from breaking the record.
func Encode(f Frame) ([]byte, error) {
	if !f.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrameType, f.Type)
	}
	payload, err := marshalJSON(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}

	buf := make([]byte, 0, len(DataPrefix)+len(payload)+len(RecordDelimiter))
	buf = append(buf, DataPrefix...)
	buf = append(buf, payload...)
	buf = append(buf, RecordDelimiter...)
	return buf, nil
}

// marshalJSON is json.Marshal without HTML escaping, so "&", "<" and ">"
// in payloads reach the client as written.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MustEncode is Encode for frames built by this package's constructors,
// which always have a valid type and marshalable payload.
func MustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses one complete record. It returns nil and logs when the record
// is malformed so a single corrupt frame never aborts a stream.
func Decode(record string) *Frame {
	f, err := DecodeRecord(record)
	if err != nil {
		slog.Warn("Skipping malformed frame", "error", err, "record", truncate(record, 200))
		return nil
	}
	return f
}

// DecodeRecord is Decode with the error returned instead of logged.
func DecodeRecord(record string) (*Frame, error) {
	line := strings.TrimRight(record, "\r\n")
	payload, ok := CutDataPrefix(line)
	if !ok {
		return nil, ErrMissingDataPrefix
	}
	return DecodePayload([]byte(payload))
}

// DecodePayload parses the JSON object carried by a data line.
func DecodePayload(payload []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if !f.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrameType, f.Type)
	}
	return &f, nil
}

// CutDataPrefix strips the data prefix from a line. Both "data: " and the
// spaceless "data:" form are accepted.
func CutDataPrefix(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, DataPrefix); ok {
		return rest, true
	}
	return strings.CutPrefix(line, "data:")
}

func compact(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
