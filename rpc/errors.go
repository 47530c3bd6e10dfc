// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import "fmt"

// Statuses produced by the core itself. Handlers are free to fail with
// any status they choose; these are the ones the protocol reserves.
const (
	// StatusInvalidCommand reports an inbound frame that cannot be
	// interpreted: an unsupported kind or a required field that is
	// absent.
	StatusInvalidCommand = "invalid-command"

	// StatusException is the catch-all for failures that do not carry
	// a structured status: undecodable input on the reader side,
	// unstructured handler errors and handler panics on the dispatch
	// side. The message is a diagnostic rendering of the failure and
	// is not a stable interface.
	StatusException = "exception"

	// StatusCancelled is the conventional status a handler fails with
	// after observing its cancellation token.
	StatusCancelled = "cancelled"
)

// Error is a structured protocol failure. It is both the wire shape of
// an outbound error frame and the error value a [Handler] returns to
// fail a command with a specific status: the dispatcher sends status,
// message, and body to the peer verbatim.
type Error struct {
	// Status is the machine-readable error code.
	Status string

	// Message is the human-readable description.
	Message string

	// Body carries optional structured diagnostic data. A nil body is
	// encoded as an empty object.
	Body map[string]any
}

// NewError returns a structured failure with the given status and
// message and no body.
func NewError(status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WithBody returns a copy of the error carrying the given diagnostic
// body.
func (e *Error) WithBody(body map[string]any) *Error {
	clone := *e
	clone.Body = body
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Cancelled returns the structured failure a handler reports after
// honoring a cancellation request.
func Cancelled() *Error {
	return NewError(StatusCancelled, "command cancelled")
}
