// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration.
type Config struct {
	// Listen is the Unix socket path to serve on. Empty means the
	// agent speaks the protocol over stdio instead of a socket.
	Listen string `yaml:"listen"`

	// LogLevel is the minimum level emitted: debug, info, warn, or
	// error. The protocol's logging command adjusts the level at
	// runtime; this sets the starting point.
	LogLevel string `yaml:"log_level"`

	// LogFormat selects json or text log output on stderr.
	LogFormat string `yaml:"log_format"`

	// TracePath, if set, records every frame in both directions to
	// this file. A ".zst" suffix compresses the trace.
	TracePath string `yaml:"trace_path"`

	// MaxLineBytes caps a single frame line. Zero selects the
	// transport default.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// Default returns the configuration used when no file is given:
// stdio transport, info-level JSON logs, no trace.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// DefaultSocketPath returns the conventional socket path for socket
// mode: keybridge.sock under XDG_RUNTIME_DIR, or a per-user file
// under the system temporary directory when that is unset. The
// client binary dials the same path, so both sides agree without
// configuration.
func DefaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "keybridge.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("keybridge-%d.sock", os.Getuid()))
}

// Load loads configuration from the file named by the
// KEYBRIDGE_CONFIG environment variable, or returns [Default] when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("KEYBRIDGE_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. File values
// overlay the defaults; path fields are variable-expanded after
// loading.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"XDG_RUNTIME_DIR": os.Getenv("XDG_RUNTIME_DIR"),
	}

	c.Listen = expandVars(c.Listen, vars)
	c.TracePath = expandVars(c.TracePath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of
// them at once.
func (c *Config) Validate() error {
	var errs []error

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", levels))
	}

	formats := []string{"json", "text"}
	if !slices.Contains(formats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format must be one of: %v", formats))
	}

	if c.MaxLineBytes < 0 {
		errs = append(errs, fmt.Errorf("max_line_bytes must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
