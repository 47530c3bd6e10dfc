// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/keybridge-labs/keybridge/rpc"
	"github.com/keybridge-labs/keybridge/trace"
)

const (
	// DefaultMaxLineBytes caps a single frame line. Command bodies
	// carry base64 key material and certificate chains, but nothing
	// legitimate approaches a megabyte.
	DefaultMaxLineBytes = 1 << 20

	// initialLineBuffer is the scanner's starting allocation, grown
	// on demand up to the line cap.
	initialLineBuffer = 64 * 1024
)

// PipeConfig describes one frame channel over a raw byte stream pair.
type PipeConfig struct {
	// Reader supplies inbound frame lines. Required.
	Reader io.Reader

	// Writer receives outbound frame lines. Required.
	Writer io.Writer

	// MaxLineBytes caps a single frame line in either direction.
	// Zero means DefaultMaxLineBytes. An inbound line over the cap
	// is a transport failure and ends the session; lines cannot be
	// resynchronized once truncated.
	MaxLineBytes int

	// Trace, if non-nil, records the raw line bytes of every frame
	// in both directions. Capture is best-effort: a failing trace
	// writer never interrupts the session.
	Trace *trace.Writer

	// TraceSession labels this pipe's records in a shared trace
	// writer. Empty is fine for single-session transports.
	TraceSession string

	// Logger receives trace-capture diagnostics. Optional.
	Logger *slog.Logger
}

// Pipe returns the send and recv functions for one session over the
// configured byte streams.
//
// recv reads one line per call and decodes it; stream exhaustion maps
// to io.EOF, a read failure to a wrapped transport error. Decode
// failures surface as *rpc.Error so the session can answer them and
// continue.
//
// send encodes a frame and writes it with a trailing newline as a
// single Write call, serialized by a mutex: the reader side answers
// decode failures while the dispatcher emits results, and their
// output must not interleave mid-line.
func Pipe(cfg PipeConfig) (rpc.SendFunc, rpc.RecvFunc) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	// The scanner's effective cap is the larger of the max and the
	// initial capacity, so the initial allocation must shrink when
	// the cap is below it.
	initialBuffer := initialLineBuffer
	if maxLineBytes < initialBuffer {
		initialBuffer = maxLineBytes
	}
	scanner := bufio.NewScanner(cfg.Reader)
	scanner.Buffer(make([]byte, 0, initialBuffer), maxLineBytes)

	recv := func() (rpc.Frame, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading frame line: %w", err)
			}
			return nil, io.EOF
		}
		line := scanner.Bytes()
		if cfg.Trace != nil {
			if err := cfg.Trace.Append(cfg.TraceSession, trace.DirectionIn, line); err != nil {
				logger.Warn("trace capture failed", "direction", trace.DirectionIn, "error", err)
			}
		}
		return rpc.DecodeFrame(line)
	}

	var writeMu sync.Mutex
	send := func(frame rpc.Frame) error {
		line, err := rpc.EncodeFrame(frame)
		if err != nil {
			return err
		}

		writeMu.Lock()
		defer writeMu.Unlock()

		if cfg.Trace != nil {
			if err := cfg.Trace.Append(cfg.TraceSession, trace.DirectionOut, line); err != nil {
				logger.Warn("trace capture failed", "direction", trace.DirectionOut, "error", err)
			}
		}
		if _, err := cfg.Writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("writing frame line: %w", err)
		}
		return nil
	}

	return send, recv
}
