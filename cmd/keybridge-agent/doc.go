// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Keybridge-agent is the management agent for hardware security keys.
// A front end drives it over a newline-delimited JSON protocol: one
// command at a time, asynchronous progress signals, cooperative
// cancellation. The protocol semantics live in the rpc package; the
// command surface is a node tree (see the node package) that front
// ends discover at runtime with the built-in "get" action.
//
// # Modes
//
// By default the agent serves a single session over stdin/stdout. This
// is the spawned-helper mode: the front end forks the agent, writes
// command frames to its stdin, and reads response frames from its
// stdout. Closing stdin ends the session and the process.
//
// With --listen PATH the agent serves sessions on a unix socket
// instead, one session per connection. Connections from other users
// are refused via SO_PEERCRED; the socket file is created mode 0600.
//
// # Command surface
//
// The root node answers:
//
//   - get: describe the tree (data, children, actions)
//   - diagnose: build identity, runtime, pid, uptime, and the SHA256
//     of the running binary
//   - logging: adjust the agent's log level at runtime
//
// Device subtrees attach as children of the root as they are opened.
//
// # Configuration
//
// Configuration comes from defaults, then the YAML file named by
// KEYBRIDGE_CONFIG (or --config), then flags, each layer overriding
// the last. Logs are JSON on stderr by default; --log-format text
// switches to a human-readable form.
package main
