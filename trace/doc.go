// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace records every frame crossing a transport, for
// diagnosing front-end/agent interaction without instrumenting either
// side.
//
// A trace file is a CBOR stream of [Record] values, one per frame
// line, in the order the transport observed them. Raw line bytes are
// stored verbatim, so a trace reproduces exactly what went over the
// wire, including frames the decoder rejected. When the target path
// ends in ".zst" the stream is zstd-compressed; frame lines are JSON
// text and compress well.
//
// [Writer.Append] is safe for concurrent use. A transport serving
// multiple connections shares one Writer and distinguishes sessions
// by the session label on each record.
package trace
