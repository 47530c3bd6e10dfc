// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build provenance for keybridge binaries.
//
// # Build information
//
// The package-level variables are populated at build time via
// -ldflags "-X lib/version.GitCommit=..." and friends. A binary built
// without ldflags reports placeholder values, which is how development
// builds are distinguished from released ones.
//
// SelfHash returns the SHA256 digest and path of the currently running
// binary. Front ends surface it through the diagnose command so that a
// user can confirm exactly which agent build is holding their key.
package version
