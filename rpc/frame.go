// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignalCancel is the inbound signal status requesting cancellation of
// the command in flight. It is the only inbound signal status the core
// interprets; anything else is logged and dropped.
const SignalCancel = "cancel"

// Frame is one protocol message. The concrete types are [Command],
// [Signal], [Success], and [*Error]; the transport-decoding layer
// constructs them and the session loop pattern-matches on them.
type Frame interface {
	frameKind() string
}

// Command requests execution of an action against a node in the
// handler hierarchy.
type Command struct {
	// Action names the operation to perform.
	Action string

	// Target addresses the node the action applies to, as a path of
	// child names from the root. Empty means the root itself.
	Target []string

	// Body carries the action's parameters.
	Body map[string]any
}

// Signal is an out-of-band notification. Inbound, only the "cancel"
// status has meaning to the core. Outbound, signals carry handler
// progress while a command is still running.
type Signal struct {
	// Status identifies the notification.
	Status string

	// Body carries status-specific data on outbound signals. It is
	// ignored on inbound signals.
	Body any
}

// Success carries the result of a completed command.
type Success struct {
	// Body is the handler's result value.
	Body any
}

func (*Command) frameKind() string { return "command" }
func (*Signal) frameKind() string  { return "signal" }
func (*Success) frameKind() string { return "success" }
func (*Error) frameKind() string   { return "error" }

// frameEnvelope is the superset decode target for inbound frames.
// Pointer fields distinguish an absent required field from one that is
// present but empty.
type frameEnvelope struct {
	Kind   *string        `json:"kind"`
	Action *string        `json:"action"`
	Target []string       `json:"target"`
	Body   map[string]any `json:"body"`
	Status *string        `json:"status"`
}

// DecodeFrame interprets one wire line as an inbound frame. Failures
// are returned as [*Error] values ready to send back to the peer:
// structural problems (missing "kind" or a required kind-specific
// field, or a kind the peer may not send) carry StatusInvalidCommand,
// undecodable JSON carries StatusException.
func DecodeFrame(line []byte) (Frame, error) {
	var envelope frameEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, NewError(StatusException, fmt.Sprintf("unreadable frame: %v", err))
	}
	if envelope.Kind == nil {
		return nil, NewError(StatusInvalidCommand, `frame is missing "kind"`)
	}

	switch *envelope.Kind {
	case "command":
		if envelope.Action == nil {
			return nil, NewError(StatusInvalidCommand, `command frame is missing "action"`)
		}
		command := &Command{
			Action: *envelope.Action,
			Target: envelope.Target,
			Body:   envelope.Body,
		}
		if command.Target == nil {
			command.Target = []string{}
		}
		if command.Body == nil {
			command.Body = map[string]any{}
		}
		return command, nil

	case "signal":
		if envelope.Status == nil {
			return nil, NewError(StatusInvalidCommand, `signal frame is missing "status"`)
		}
		return &Signal{Status: *envelope.Status}, nil

	default:
		return nil, NewError(StatusInvalidCommand, fmt.Sprintf("unsupported frame kind %q", *envelope.Kind))
	}
}

// EncodeFrame renders a frame as one JSON line without the trailing
// newline. Nil bodies are encoded as empty objects so every outbound
// frame carries its full field set.
//
// A frame the JSON encoder rejects (a body holding an Inf float or a
// func value) is reported as an [*Error] with StatusException,
// mirroring [DecodeFrame]. The reported failure carries no body and
// always encodes, so it can be sent in the refused frame's place.
func EncodeFrame(frame Frame) ([]byte, error) {
	var payload any
	switch f := frame.(type) {
	case *Command:
		target := f.Target
		if target == nil {
			target = []string{}
		}
		payload = struct {
			Kind   string         `json:"kind"`
			Action string         `json:"action"`
			Target []string       `json:"target"`
			Body   map[string]any `json:"body"`
		}{"command", f.Action, target, orEmptyMap(f.Body)}

	case *Signal:
		payload = struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
			Body   any    `json:"body"`
		}{"signal", f.Status, orEmptyBody(f.Body)}

	case *Success:
		payload = struct {
			Kind string `json:"kind"`
			Body any    `json:"body"`
		}{"success", orEmptyBody(f.Body)}

	case *Error:
		payload = struct {
			Kind    string         `json:"kind"`
			Status  string         `json:"status"`
			Message string         `json:"message"`
			Body    map[string]any `json:"body"`
		}{"error", f.Status, f.Message, orEmptyMap(f.Body)}

	default:
		return nil, NewError(StatusException, fmt.Sprintf("unencodable frame type %T", frame))
	}

	// An explicit encoder rather than json.Marshal so HTML escaping
	// can be disabled: the wire carries frames verbatim, not HTML.
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return nil, NewError(StatusException, fmt.Sprintf("unencodable %s frame: %v", frame.frameKind(), err))
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

func orEmptyMap(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	return body
}

func orEmptyBody(body any) any {
	if body == nil {
		return map[string]any{}
	}
	if m, ok := body.(map[string]any); ok && m == nil {
		return map[string]any{}
	}
	return body
}

// EncodeBytes returns the wire form of a binary value: standard base64
// with padding. This matches what encoding/json produces for []byte,
// so handlers may place raw []byte values in a result body and the
// peer recovers them with the inverse transform.
func EncodeBytes(value []byte) string {
	return base64.StdEncoding.EncodeToString(value)
}

// DecodeBytes recovers a binary value from its wire form. The value
// must be the base64 string produced by [EncodeBytes] (or by the JSON
// encoding of a []byte); the decoded bytes round-trip exactly.
func DecodeBytes(value any) ([]byte, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("binary value must be a base64 string, got %T", value)
	}
	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decoding binary value: %w", err)
	}
	return decoded, nil
}
