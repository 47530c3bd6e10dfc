// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. A front end that exits without a clean shutdown, or a
// server-side close during agent shutdown, surfaces as one of these
// on the surviving side's in-flight read or write. None of them
// indicate a fault worth alarming on.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
