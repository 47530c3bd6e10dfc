// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// TB is the subset of testing.TB the helpers need. Declaring the
// subset keeps the helpers free of a testing import and usable from
// both tests and benchmarks.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
//
//	frame := testutil.RequireReceive(t, sent, 5*time.Second, "waiting for result frame")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, describe string, args ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", fmt.Sprintf(describe, args...))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, fmt.Sprintf(describe, args...))
	}
	panic("unreachable")
}

// RequireSend sends value on ch within timeout, or fails the test.
//
//	testutil.RequireSend(t, inbound, frame, 5*time.Second, "feeding command")
func RequireSend[T any](t TB, ch chan<- T, value T, timeout time.Duration, describe string, args ...any) {
	t.Helper()
	select {
	case ch <- value:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, fmt.Sprintf(describe, args...))
	}
}

// RequireClosed waits for ch to be closed (or deliver a value) within
// timeout, or fails the test. Use it for completion channels that
// signal by closing.
//
//	testutil.RequireClosed(t, done, 5*time.Second, "session shutdown")
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, describe string, args ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, fmt.Sprintf(describe, args...))
	}
}

// RequireNoReceive asserts that nothing arrives on ch within window.
// Use it for invariants of the form "the next command must not start
// yet": a violation shows up promptly, so a short window keeps the
// suite fast while still failing reliably when the invariant breaks.
func RequireNoReceive[T any](t TB, ch <-chan T, window time.Duration, describe string, args ...any) {
	t.Helper()
	select {
	case value := <-ch:
		t.Fatalf("unexpected value %v: %s", value, fmt.Sprintf(describe, args...))
	case <-time.After(window):
	}
}
