// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// SendFunc writes one outbound frame to the peer. Implementations must
// be safe for concurrent use: the reader goroutine answers unusable
// inbound frames while the dispatcher is sending results and progress
// signals. A frame the codec refuses to serialize is reported as an
// [*Error] (see [EncodeFrame]) with nothing written; any other error
// is a transport write failure.
type SendFunc func(Frame) error

// RecvFunc returns the next inbound frame. At end of stream it returns
// io.EOF. A frame that could not be decoded is reported as an [*Error]
// (see [DecodeFrame]) so the session can answer it and keep reading;
// any other error is a transport failure and ends the session the same
// way end of stream does.
type RecvFunc func() (Frame, error)

// SignalFunc emits an outbound progress signal immediately, without
// waiting for the current command to complete.
type SignalFunc func(status string, body any) error

// Handler executes one command. Invocations run on the dispatcher
// goroutine, strictly one at a time. token carries cancellation
// requests for the duration of the invocation; emit sends progress
// signals. A structured failure is returned as an [*Error] and reaches
// the peer verbatim; any other error is reported with status
// "exception".
type Handler func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error)

// Process runs one protocol session over a send/recv frame pair and
// the given handler. It blocks until the inbound stream ends and the
// reader goroutine has been joined; no concurrent activity survives
// the call. The return value is nil for a clean end-of-stream shutdown
// and the first write failure otherwise.
//
// Commands execute in receipt order with exactly one success or error
// frame each. A second command received while one is executing waits
// in the handoff slot until the first command's result frame has been
// sent. Cancel signals bypass the slot entirely and set the shared
// token, which is reset before each new command begins.
func Process(send SendFunc, recv RecvFunc, handler Handler, logger *slog.Logger) error {
	token := NewCancelToken()

	// Single-slot handoff between reader and dispatcher. inFlight is
	// held from the moment a command is accepted until its result
	// frame has been sent; the reader acquires it before enqueueing,
	// so a new command cannot enter the pipeline while the previous
	// one is anywhere in it, and the reader's token reset can never
	// race a running handler.
	commands := make(chan *Command, 1)
	inFlight := make(chan struct{}, 1)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readFrames(send, recv, token, commands, inFlight, logger)
	}()

	emit := func(status string, body any) error {
		return send(&Signal{Status: status, Body: body})
	}

	// Dispatch loop. On a write failure the peer is unreachable: stop
	// invoking the handler but keep draining and acknowledging, so the
	// reader can reach end of stream instead of blocking forever on
	// the in-flight slot.
	var processErr error
	for command := range commands {
		if processErr == nil {
			if err := dispatch(command, handler, token, send, emit, logger); err != nil {
				processErr = err
			}
		}
		<-inFlight
	}

	<-readerDone
	return processErr
}

// readFrames consumes the inbound stream until it ends. Cancel signals
// act on the token immediately, independent of command execution;
// commands go through the handoff slot; unusable frames are answered
// with error frames without disturbing the session. On exit the token
// is set, telling any in-flight handler to stop, and the command
// channel is closed so the dispatcher terminates once drained.
func readFrames(send SendFunc, recv RecvFunc, token *CancelToken, commands chan<- *Command, inFlight chan struct{}, logger *slog.Logger) {
	defer func() {
		token.Cancel()
		close(commands)
	}()

	for {
		frame, err := recv()
		if err != nil {
			var protocol *Error
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.As(err, &protocol):
				if sendErr := send(protocol); sendErr != nil {
					logger.Warn("could not report unusable frame", "error", sendErr)
				}
				continue
			default:
				logger.Warn("inbound stream failed", "error", err)
				return
			}
		}

		switch frame := frame.(type) {
		case *Signal:
			if frame.Status == SignalCancel {
				token.Cancel()
			} else {
				logger.Error("unhandled signal", "status", frame.Status)
			}

		case *Command:
			// Wait for the previous command to drain, then reset the
			// token so cancellation state cannot leak across commands.
			// The slot guarantees the enqueue below cannot block.
			inFlight <- struct{}{}
			token.Reset()
			commands <- frame

		default:
			message := fmt.Sprintf("unsupported frame kind %q", frame.frameKind())
			if sendErr := send(NewError(StatusInvalidCommand, message)); sendErr != nil {
				logger.Warn("could not report unusable frame", "error", sendErr)
			}
		}
	}
}

// dispatch runs the handler for one command and sends exactly one
// success or error frame. A result the codec refuses to serialize is
// answered with the codec's own error frame, so it costs the command
// its result, not the session. The returned error is a transport
// write failure; the handler's own outcome never propagates past the
// frame it produced.
func dispatch(command *Command, handler Handler, token *CancelToken, send SendFunc, emit SignalFunc, logger *slog.Logger) error {
	result, err := invoke(command, handler, token, emit)

	var response Frame
	if err == nil {
		response = &Success{Body: result}
	} else {
		var structured *Error
		if errors.As(err, &structured) {
			response = structured
		} else {
			response = NewError(StatusException, err.Error())
		}
	}

	sendErr := send(response)
	var unencodable *Error
	if errors.As(sendErr, &unencodable) {
		// The substitute frame carries no body and always encodes;
		// a failure sending it is a genuine write failure.
		logger.Error("result not encodable", "action", command.Action, "error", sendErr)
		sendErr = send(unencodable)
	}
	return sendErr
}

// invoke calls the handler with the command's fields, containing
// panics: a broken handler costs one error frame, not the session.
func invoke(command *Command, handler Handler, token *CancelToken, emit SignalFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(StatusException, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return handler(command.Action, command.Target, command.Body, token, emit)
}
