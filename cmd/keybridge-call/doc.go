// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Keybridge-call is a one-shot client for the keybridge-agent unix
// socket. It sends a single command frame built from its arguments,
// prints every response frame as a JSON line, and exits 0 on success
// or 1 on error, enabling shell scripts to drive the agent without a
// persistent front end. Ctrl-C is forwarded to the agent as a cancel
// signal rather than abandoning the connection.
package main
