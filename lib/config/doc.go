// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// Keybridge agent.
//
// Configuration is loaded from a single file specified by either the
// KEYBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no ~/.config discovery and no
// automatic file search; an unset KEYBRIDGE_CONFIG simply yields
// [Default], because the common deployment is a front end spawning
// the agent over stdio with no configuration at all.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Precedence is flags over file over defaults; the flag layer lives
// in the agent binary, this package covers the other two.
package config
