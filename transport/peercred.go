// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials returns the kernel-reported identity of the process
// on the other end of a Unix socket connection. Unlike anything the
// peer sends in-band, SO_PEERCRED cannot be forged.
func peerCredentials(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("accessing connection descriptor: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	controlErr := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if controlErr != nil {
		return nil, fmt.Errorf("accessing connection descriptor: %w", controlErr)
	}
	if credentialsErr != nil {
		return nil, fmt.Errorf("reading peer credentials: %w", credentialsErr)
	}
	return credentials, nil
}
