// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries frames over byte streams.
//
// The dispatch core in package rpc is transport-agnostic: it consumes
// frames through a recv function and produces them through a send
// function. This package supplies those functions for the two ways a
// front end reaches the agent:
//
//   - [Pipe] wraps any io.Reader/io.Writer pair, NDJSON both ways.
//     The agent's stdio mode is Pipe over os.Stdin/os.Stdout.
//   - [Server] listens on a Unix domain socket and runs one full
//     session per connection, Pipe over the conn.
//
// The socket server refuses connections from other users. The agent
// fronts a personal security key; SO_PEERCRED identifies the peer
// process and anything not running as the agent's own UID is closed
// before a single frame is read.
package transport
