// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
)

// Build information injected via ldflags at build time.
var (
	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"

	// GitDirty is "true" if the working tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version of the release.
	Version = "0.1.0-dev"
)

// Info returns a single-line version string suitable for logging.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns a multi-line version report including the Go runtime
// and target platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes the standard "--version" line for the named binary to
// stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}

// Short returns just the semantic version.
func Short() string {
	return Version
}

// Commit returns just the git commit hash.
func Commit() string {
	return GitCommit
}

// SelfHash returns the hex-encoded SHA256 digest of the currently
// running binary and the resolved path it was read from. The digest
// identifies the build regardless of what ldflags claim, so a
// mislabeled binary is still distinguishable.
func SelfHash() (hash string, binaryPath string, err error) {
	executable, err := os.Executable()
	if err != nil {
		return "", "", fmt.Errorf("resolving own executable path: %w", err)
	}
	digest, err := hashFile(executable)
	if err != nil {
		return "", "", fmt.Errorf("hashing own binary at %s: %w", executable, err)
	}
	return hex.EncodeToString(digest), executable, nil
}

// hashFile computes the SHA256 digest of the file at path, streaming
// so that large binaries do not load fully into memory.
func hashFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return hasher.Sum(nil), nil
}
