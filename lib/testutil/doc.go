// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Keybridge packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the timeout safety valve pattern
// (select with a time.After fallback) so that individual tests do not
// need direct time.After calls. Protocol tests lean on them heavily:
// sessions under test exchange frames over channels, and every blocking
// step needs a bound so a broken invariant fails the test instead of
// hanging the suite.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. Unix domain sockets have a 108-byte path limit
// (sun_path in sockaddr_un), and test runners can set TMPDIR to deeply
// nested paths that exceed it, making t.TempDir() unsuitable for
// socket files.
package testutil
