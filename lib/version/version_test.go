// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoCleanBuild(t *testing.T) {
	oldCommit, oldDirty := GitCommit, GitDirty
	defer func() { GitCommit, GitDirty = oldCommit, oldDirty }()

	GitCommit = "abc1234"
	GitDirty = "false"
	info := Info()
	if strings.Contains(info, "-dirty") {
		t.Errorf("clean build reported dirty: %q", info)
	}
	if !strings.Contains(info, "abc1234") {
		t.Errorf("Info() = %q, missing commit", info)
	}
}

func TestInfoDirtyBuild(t *testing.T) {
	oldDirty := GitDirty
	defer func() { GitDirty = oldDirty }()

	GitDirty = "true"
	if info := Info(); !strings.Contains(info, "-dirty") {
		t.Errorf("dirty build not marked: %q", info)
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	full := Full()
	if !strings.Contains(full, "Go: go") {
		t.Errorf("Full() = %q, missing Go runtime version", full)
	}
	if !strings.Contains(full, "Platform: ") {
		t.Errorf("Full() = %q, missing platform", full)
	}
}

func TestSelfHash(t *testing.T) {
	hash, path, err := SelfHash()
	if err != nil {
		t.Fatalf("SelfHash() failed: %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("hash %q is not a hex SHA256 digest", hash)
	}
	if path == "" {
		t.Error("SelfHash() returned empty binary path")
	}

	again, _, err := SelfHash()
	if err != nil {
		t.Fatalf("second SelfHash() failed: %v", err)
	}
	if again != hash {
		t.Errorf("hash changed between calls: %q then %q", hash, again)
	}
}
