// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keybridge-labs/keybridge/lib/testutil"
)

const waitTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startSession runs Process over channel-backed transport functions.
// The test feeds inbound frames on in (closing it ends the stream),
// observes outbound frames on sent, and receives the Process return
// value on done.
func startSession(t *testing.T, handler Handler) (in chan Frame, sent chan Frame, done chan error) {
	t.Helper()
	in = make(chan Frame, 16)
	sent = make(chan Frame, 16)
	done = make(chan error, 1)

	recv := func() (Frame, error) {
		frame, ok := <-in
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
	send := func(frame Frame) error {
		sent <- frame
		return nil
	}
	go func() {
		done <- Process(send, recv, handler, testLogger())
	}()
	return in, sent, done
}

func command(action string, body map[string]any) *Command {
	if body == nil {
		body = map[string]any{}
	}
	return &Command{Action: action, Target: []string{}, Body: body}
}

func requireSuccess(t *testing.T, frame Frame) *Success {
	t.Helper()
	success, ok := frame.(*Success)
	if !ok {
		t.Fatalf("expected success frame, got %#v", frame)
	}
	return success
}

func requireErrorFrame(t *testing.T, frame Frame, status string) *Error {
	t.Helper()
	failure, ok := frame.(*Error)
	if !ok {
		t.Fatalf("expected error frame, got %#v", frame)
	}
	if failure.Status != status {
		t.Fatalf("error status = %q, want %q (message: %s)", failure.Status, status, failure.Message)
	}
	return failure
}

// requireSessionOver waits for Process to return and verifies that no
// frame was produced beyond the ones the test already consumed.
func requireSessionOver(t *testing.T, sent chan Frame, done chan error) {
	t.Helper()
	if err := testutil.RequireReceive(t, done, waitTimeout, "waiting for session shutdown"); err != nil {
		t.Fatalf("Process returned %v, want nil", err)
	}
	select {
	case frame := <-sent:
		t.Fatalf("frame sent after shutdown: %#v", frame)
	default:
	}
}

func TestProcessOneResultPerCommandInOrder(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		return map[string]any{"index": body["index"]}, nil
	}
	in, sent, done := startSession(t, handler)

	for i := 0; i < 5; i++ {
		testutil.RequireSend(t, in, Frame(command("step", map[string]any{"index": i})), waitTimeout, "feeding command %d", i)
	}
	close(in)

	for i := 0; i < 5; i++ {
		frame := testutil.RequireReceive(t, sent, waitTimeout, "waiting for result %d", i)
		success := requireSuccess(t, frame)
		body, ok := success.Body.(map[string]any)
		if !ok {
			t.Fatalf("result %d body = %#v", i, success.Body)
		}
		if body["index"] != i {
			t.Errorf("result %d carries index %v, commands were reordered", i, body["index"])
		}
	}
	requireSessionOver(t, sent, done)
}

func TestProcessSerializesHandlerInvocations(t *testing.T) {
	entered := make(chan string)
	release := make(chan struct{})
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		entered <- action
		<-release
		return map[string]any{"done": action}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("first", nil)), waitTimeout, "feeding first command")
	testutil.RequireSend(t, in, Frame(command("second", nil)), waitTimeout, "feeding second command")

	if got := testutil.RequireReceive(t, entered, waitTimeout, "waiting for first invocation"); got != "first" {
		t.Fatalf("first invocation is %q", got)
	}

	// The second command is already queued; it must not reach the
	// handler while the first is still executing.
	testutil.RequireNoReceive(t, entered, 50*time.Millisecond, "second command dispatched while first in flight")

	testutil.RequireSend(t, release, struct{}{}, waitTimeout, "releasing first command")
	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for first result"))

	if got := testutil.RequireReceive(t, entered, waitTimeout, "waiting for second invocation"); got != "second" {
		t.Fatalf("second invocation is %q", got)
	}
	testutil.RequireSend(t, release, struct{}{}, waitTimeout, "releasing second command")
	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for second result"))

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessCancelVisibleMidCommand(t *testing.T) {
	entered := make(chan struct{})
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		entered <- struct{}{}
		<-token.Done()
		return nil, Cancelled()
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("slow", nil)), waitTimeout, "feeding command")
	testutil.RequireReceive(t, entered, waitTimeout, "waiting for handler to start")

	testutil.RequireSend(t, in, Frame(&Signal{Status: SignalCancel}), waitTimeout, "feeding cancel signal")

	frame := testutil.RequireReceive(t, sent, waitTimeout, "waiting for cancelled result")
	requireErrorFrame(t, frame, StatusCancelled)

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessTokenResetBetweenCommands(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		if action == "block" {
			<-token.Done()
			return nil, Cancelled()
		}
		return map[string]any{"cancelled": token.Cancelled()}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("block", nil)), waitTimeout, "feeding blocking command")
	testutil.RequireSend(t, in, Frame(&Signal{Status: SignalCancel}), waitTimeout, "feeding cancel signal")
	requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for cancelled result"), StatusCancelled)

	// The next command must start with a clean token even though the
	// previous one was cancelled.
	testutil.RequireSend(t, in, Frame(command("probe", nil)), waitTimeout, "feeding probe command")
	success := requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for probe result"))
	if success.Body.(map[string]any)["cancelled"] != false {
		t.Error("cancellation leaked into the next command")
	}

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessShutdownCancelsInFlightCommand(t *testing.T) {
	entered := make(chan struct{})
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		entered <- struct{}{}
		<-token.Done()
		return map[string]any{"stopped": true}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("slow", nil)), waitTimeout, "feeding command")
	testutil.RequireReceive(t, entered, waitTimeout, "waiting for handler to start")

	// End of stream: the in-flight handler observes cancellation and
	// its final result is still delivered before the session ends.
	close(in)

	success := requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for final result"))
	if success.Body.(map[string]any)["stopped"] != true {
		t.Errorf("final result = %#v", success.Body)
	}
	requireSessionOver(t, sent, done)
}

func TestProcessCleanShutdownEmitsNothing(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		t.Error("handler invoked without a command")
		return nil, nil
	}
	in, sent, done := startSession(t, handler)

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessDrainsQueuedCommandAtShutdown(t *testing.T) {
	release := make(chan struct{})
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		if action == "first" {
			<-release
		}
		return map[string]any{"done": action}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("first", nil)), waitTimeout, "feeding first command")
	testutil.RequireSend(t, in, Frame(command("second", nil)), waitTimeout, "feeding second command")
	close(in)

	testutil.RequireSend(t, release, struct{}{}, waitTimeout, "releasing first command")

	first := requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for first result"))
	if first.Body.(map[string]any)["done"] != "first" {
		t.Errorf("first result = %#v", first.Body)
	}
	second := requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for queued result"))
	if second.Body.(map[string]any)["done"] != "second" {
		t.Errorf("queued command result = %#v", second.Body)
	}
	requireSessionOver(t, sent, done)
}

func TestProcessStructuredHandlerFailure(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		return nil, NewError("not-found", "no such action").WithBody(map[string]any{"name": action})
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("bogus", nil)), waitTimeout, "feeding command")
	failure := requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for error frame"), "not-found")
	if failure.Message != "no such action" {
		t.Errorf("message = %q", failure.Message)
	}
	if failure.Body["name"] != "bogus" {
		t.Errorf("body = %#v", failure.Body)
	}

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessUnstructuredHandlerFailure(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		return nil, fmt.Errorf("device fell off the bus")
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("read", nil)), waitTimeout, "feeding command")
	failure := requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for error frame"), StatusException)
	if failure.Message != "device fell off the bus" {
		t.Errorf("message = %q", failure.Message)
	}

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessContainsHandlerPanic(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		if action == "explode" {
			panic("slot table corrupted")
		}
		return map[string]any{}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("explode", nil)), waitTimeout, "feeding panicking command")
	failure := requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for error frame"), StatusException)
	if want := "slot table corrupted"; !strings.Contains(failure.Message, want) {
		t.Errorf("message %q does not mention %q", failure.Message, want)
	}

	// The session must survive a handler panic.
	testutil.RequireSend(t, in, Frame(command("ping", nil)), waitTimeout, "feeding follow-up command")
	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for follow-up result"))

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessProgressSignals(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		if err := emit("touch-required", map[string]any{"timeout": 30}); err != nil {
			return nil, err
		}
		if err := emit("touch-detected", nil); err != nil {
			return nil, err
		}
		return map[string]any{"verified": true}, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(command("verify", nil)), waitTimeout, "feeding command")

	first := testutil.RequireReceive(t, sent, waitTimeout, "waiting for first signal")
	signal, ok := first.(*Signal)
	if !ok || signal.Status != "touch-required" {
		t.Fatalf("first outbound frame = %#v, want touch-required signal", first)
	}
	second := testutil.RequireReceive(t, sent, waitTimeout, "waiting for second signal")
	if signal, ok := second.(*Signal); !ok || signal.Status != "touch-detected" {
		t.Fatalf("second outbound frame = %#v, want touch-detected signal", second)
	}
	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for result"))

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessDropsUnknownSignal(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		return map[string]any{}, nil
	}
	in, sent, done := startSession(t, handler)

	// An unrecognized inbound signal is logged and dropped: no frame
	// on the wire, session keeps going.
	testutil.RequireSend(t, in, Frame(&Signal{Status: "chatter"}), waitTimeout, "feeding unknown signal")
	testutil.RequireSend(t, in, Frame(command("ping", nil)), waitTimeout, "feeding command")

	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for result"))

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessRefusesOutboundKindInbound(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		t.Error("handler invoked for a non-command frame")
		return nil, nil
	}
	in, sent, done := startSession(t, handler)

	testutil.RequireSend(t, in, Frame(&Success{Body: map[string]any{}}), waitTimeout, "feeding success frame")
	failure := requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for error frame"), StatusInvalidCommand)
	if !strings.Contains(failure.Message, "success") {
		t.Errorf("message %q does not identify the kind", failure.Message)
	}

	close(in)
	requireSessionOver(t, sent, done)
}

func TestProcessAnswersDecodeFailures(t *testing.T) {
	calls := 0
	recv := func() (Frame, error) {
		calls++
		switch calls {
		case 1:
			return nil, NewError(StatusInvalidCommand, `frame is missing "kind"`)
		case 2:
			return nil, NewError(StatusException, "unreadable frame: unexpected end of JSON input")
		default:
			return nil, io.EOF
		}
	}
	sent := make(chan Frame, 16)
	send := func(frame Frame) error {
		sent <- frame
		return nil
	}
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		t.Error("handler invoked without a command")
		return nil, nil
	}

	if err := Process(send, recv, handler, testLogger()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for invalid-command frame"), StatusInvalidCommand)
	requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for exception frame"), StatusException)
	if len(sent) != 0 {
		t.Errorf("%d extra frames after shutdown", len(sent))
	}
}

func TestProcessEndsOnTransportFailure(t *testing.T) {
	recv := func() (Frame, error) {
		return nil, fmt.Errorf("read unix: connection reset by peer")
	}
	send := func(frame Frame) error {
		t.Errorf("frame sent after transport failure: %#v", frame)
		return nil
	}
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		return nil, nil
	}

	if err := Process(send, recv, handler, testLogger()); err != nil {
		t.Fatalf("Process: %v", err)
	}
}

func TestProcessStopsDispatchingAfterSendFailure(t *testing.T) {
	sendErr := errors.New("write unix: broken pipe")
	var invocations atomic.Int32

	in := make(chan Frame, 16)
	recv := func() (Frame, error) {
		frame, ok := <-in
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
	send := func(frame Frame) error {
		return sendErr
	}
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		invocations.Add(1)
		return map[string]any{}, nil
	}

	in <- command("first", nil)
	in <- command("second", nil)
	close(in)

	err := Process(send, recv, handler, testLogger())
	if !errors.Is(err, sendErr) {
		t.Fatalf("Process returned %v, want the send failure", err)
	}
	if got := invocations.Load(); got != 1 {
		t.Errorf("handler invoked %d times after the peer vanished, want 1", got)
	}
}

func TestProcessAnswersUnencodableResult(t *testing.T) {
	handler := func(action string, target []string, body map[string]any, token *CancelToken, emit SignalFunc) (any, error) {
		if action == "bad" {
			return map[string]any{"value": math.Inf(1)}, nil
		}
		return map[string]any{"pong": true}, nil
	}

	in := make(chan Frame, 16)
	recv := func() (Frame, error) {
		frame, ok := <-in
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
	sent := make(chan Frame, 16)
	// Encode before accepting, the way the wire transport does.
	send := func(frame Frame) error {
		if _, err := EncodeFrame(frame); err != nil {
			return err
		}
		sent <- frame
		return nil
	}

	in <- command("bad", nil)
	in <- command("ping", nil)
	close(in)

	// A result the codec rejects costs that command its result, not
	// the session: the queued command still runs and answers.
	if err := Process(send, recv, handler, testLogger()); err != nil {
		t.Fatalf("Process returned %v, want nil", err)
	}
	failure := requireErrorFrame(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for exception frame"), StatusException)
	if !strings.Contains(failure.Message, "unencodable") {
		t.Errorf("message %q does not name the encode failure", failure.Message)
	}
	requireSuccess(t, testutil.RequireReceive(t, sent, waitTimeout, "waiting for follow-up result"))
	if len(sent) != 0 {
		t.Errorf("%d extra frames after shutdown", len(sent))
	}
}
