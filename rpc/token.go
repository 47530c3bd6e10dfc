// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import "sync"

// CancelToken is the shared cancellation flag for a session. The
// reader sets it when a cancel signal arrives or the inbound stream
// ends, and resets it before each new command is handed to the
// dispatcher, so a handler always starts with a clean token and
// cancellation never leaks from one command into the next.
//
// Handlers observe the token cooperatively: poll [CancelToken.Cancelled]
// at convenient points, or select on [CancelToken.Done] while blocked.
// All methods are safe for concurrent use.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel moves the token to the cancelled state and closes the current
// done channel. Cancelling an already-cancelled token is a no-op.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Reset returns the token to the not-cancelled state. A fresh done
// channel replaces the closed one, so goroutines still blocked on a
// previous command's channel are unaffected.
func (t *CancelToken) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		t.cancelled = false
		t.done = make(chan struct{})
	}
}

// Cancelled reports whether the token is in the cancelled state.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel that is closed once the token is cancelled.
// The channel is only valid until the next Reset; callers that span
// commands must re-acquire it.
func (t *CancelToken) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
