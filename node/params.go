// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"

	"github.com/keybridge-labs/keybridge/rpc"
)

// InvalidParameters returns the structured failure for a command body
// an action cannot use.
func InvalidParameters(message string) *rpc.Error {
	return rpc.NewError(StatusInvalidParameters, message)
}

// StringParam extracts a required string parameter from a command
// body, failing with [StatusInvalidParameters] when it is absent or
// not a string.
func StringParam(params map[string]any, key string) (string, error) {
	value, ok := params[key]
	if !ok {
		return "", InvalidParameters(fmt.Sprintf("missing parameter %q", key))
	}
	text, ok := value.(string)
	if !ok {
		return "", InvalidParameters(fmt.Sprintf("parameter %q must be a string, got %T", key, value))
	}
	return text, nil
}

// BytesParam extracts a required binary parameter from a command body.
// Binary values travel as base64 text on the wire; this decodes them
// back to the original bytes.
func BytesParam(params map[string]any, key string) ([]byte, error) {
	value, ok := params[key]
	if !ok {
		return nil, InvalidParameters(fmt.Sprintf("missing parameter %q", key))
	}
	decoded, err := rpc.DecodeBytes(value)
	if err != nil {
		return nil, InvalidParameters(fmt.Sprintf("parameter %q: %v", key, err))
	}
	return decoded, nil
}
