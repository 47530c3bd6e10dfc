// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the Keybridge agent protocol: an NDJSON
// command channel between a front-end process and the agent, with
// serialized command execution, asynchronous progress signals, and
// cooperative cancellation.
//
// # Protocol
//
// Each frame is one JSON object on one line, tagged by a "kind" field:
//
//   - command (inbound) -- an action to execute against a target path,
//     with a parameter body
//   - signal (inbound) -- out-of-band notification; "cancel" requests
//     cancellation of the command in flight
//   - signal (outbound) -- progress reported by the running handler
//   - success (outbound) -- the result of a completed command
//   - error (outbound) -- a failed command or an unusable inbound frame
//
// Exactly one success or error frame is produced per command, in the
// order the commands were received. Progress signals are not gated by
// command completion and may appear at any point while a command runs.
//
// # Execution model
//
// [Process] runs one session over a send/recv frame pair. A reader
// goroutine consumes inbound frames: cancel signals act immediately on
// the shared [CancelToken], commands are handed to the dispatcher
// through a single-slot queue. The dispatcher (the calling goroutine)
// executes one [Handler] invocation at a time; the reader will not hand
// over the next command until the previous one has been fully drained,
// so handler invocations never overlap. When the inbound stream ends,
// the token is set, the dispatcher finishes any command in flight, and
// Process returns after the reader goroutine has been joined.
//
// Cancellation is cooperative: the handler is expected to poll
// [CancelToken.Cancelled] or select on [CancelToken.Done] and abandon
// work promptly. The core never interrupts a handler forcibly.
//
// # Failures
//
// A handler fails either with a structured [*Error] (status, message,
// body propagated verbatim to the wire) or with any other error, which
// is reported with status "exception". Unusable inbound frames produce
// an error frame ("invalid-command" for a missing field or unsupported
// kind, "exception" for undecodable input) and the session keeps going.
// A handler result the codec refuses to serialize is answered the same
// way, with the codec's "exception" error in the result's place. Only
// end of stream or a transport write failure terminates a session.
package rpc
