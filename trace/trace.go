// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/keybridge-labs/keybridge/lib/codec"
)

// Direction labels which way a frame crossed the transport, from the
// agent's point of view.
type Direction string

const (
	// DirectionIn marks a frame received from the front end.
	DirectionIn Direction = "in"

	// DirectionOut marks a frame sent to the front end.
	DirectionOut Direction = "out"
)

// Record is one captured frame line.
type Record struct {
	// Time is the capture time in Unix nanoseconds.
	Time int64 `cbor:"time"`

	// Session identifies the connection the frame belongs to. Empty
	// for single-session transports such as stdio.
	Session string `cbor:"session,omitempty"`

	// Dir is the frame's direction.
	Dir Direction `cbor:"dir"`

	// Line is the raw frame line without its trailing newline,
	// exactly as it appeared on the wire.
	Line []byte `cbor:"line"`
}

// Writer appends records to a trace file. Safe for concurrent use;
// the reader and dispatcher sides of a session append from different
// goroutines.
type Writer struct {
	mu         sync.Mutex
	encoder    *codec.Encoder
	compressor *zstd.Encoder // nil for uncompressed traces
	file       *os.File
	closed     bool
}

// Create opens a trace file for writing, truncating any existing file
// at path. A ".zst" suffix selects zstd compression for the stream.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}

	writer := &Writer{file: file}
	if strings.HasSuffix(path, ".zst") {
		compressor, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating trace compressor: %w", err)
		}
		writer.compressor = compressor
		writer.encoder = codec.NewEncoder(compressor)
	} else {
		writer.encoder = codec.NewEncoder(file)
	}
	return writer, nil
}

// Append records one frame line. The line bytes are encoded before
// Append returns and are not retained, so callers may reuse the
// buffer. Appending to a closed writer is an error.
func (w *Writer) Append(session string, dir Direction, line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("trace writer is closed")
	}

	record := Record{
		Time:    time.Now().UnixNano(),
		Session: session,
		Dir:     dir,
		Line:    line,
	}
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("appending trace record: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file. Safe to call more than
// once; subsequent calls return nil.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	// The compressor buffers; it must be closed before the file so
	// the final zstd frame reaches disk.
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			w.file.Close()
			return fmt.Errorf("closing trace compressor: %w", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing trace file: %w", err)
	}
	return nil
}

// ReadFile decodes all records from a trace file written by [Writer].
// A ".zst" suffix selects zstd decompression, mirroring [Create].
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		decompressor, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("opening trace decompressor: %w", err)
		}
		defer decompressor.Close()
		reader = decompressor
	}

	var records []Record
	decoder := codec.NewDecoder(reader)
	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			// A crash mid-append truncates the final record.
			// Everything before it is still valid.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return records, nil
			}
			return nil, fmt.Errorf("decoding trace record: %w", err)
		}
		records = append(records, record)
	}
}
