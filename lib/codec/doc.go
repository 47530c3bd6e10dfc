// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides keybridge's standard CBOR encoding configuration.
//
// Keybridge uses two serialization formats with a clear boundary:
//
//   - JSON for the front-end protocol: every frame exchanged with a
//     front end is a single line of JSON (see the rpc package).
//   - CBOR for internal artifacts: trace capture files and any other
//     on-disk state the agent writes for itself.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every keybridge package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (trace files):
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// Types serialized through this package carry `cbor` struct tags. They
// are internal to the agent and never cross the front-end protocol, so
// they never carry `json` tags.
package codec
