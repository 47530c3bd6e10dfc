// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/keybridge-labs/keybridge/lib/version"
	"github.com/keybridge-labs/keybridge/node"
	"github.com/keybridge-labs/keybridge/rpc"
)

// agentState is what the root node's actions operate on: the runtime
// log level control and the process start time for uptime reporting.
type agentState struct {
	level     *slog.LevelVar
	logger    *slog.Logger
	startedAt time.Time
}

// buildRoot assembles the agent's command tree. Device subtrees attach
// as children here once a key is opened; the root itself carries the
// agent-level actions.
func buildRoot(state *agentState) *node.Node {
	root := node.New("keybridge agent")
	root.Data(func() (map[string]any, error) {
		return map[string]any{
			"version": version.Short(),
		}, nil
	})
	root.Action("diagnose", state.diagnose)
	root.Action("logging", state.logging)
	return root
}

// diagnose reports the agent's build identity and runtime environment
// so a front end (or a bug report) can pin down exactly which agent
// build it is talking to.
func (s *agentState) diagnose(_ map[string]any, _ *rpc.CancelToken, _ rpc.SignalFunc) (any, error) {
	report := map[string]any{
		"version":        version.Info(),
		"go":             runtime.Version(),
		"platform":       runtime.GOOS + "/" + runtime.GOARCH,
		"pid":            os.Getpid(),
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	}

	// A failed self-hash (binary replaced or unlinked underneath a
	// running agent) is itself diagnostic information, not a reason to
	// fail the whole report.
	hash, path, err := version.SelfHash()
	if err != nil {
		report["binary"] = map[string]any{"error": err.Error()}
	} else {
		report["binary"] = map[string]any{"path": path, "sha256": hash}
	}
	return report, nil
}

// logging adjusts the agent's log level at runtime. Front ends use
// this to capture debug logs for a problem session without restarting
// the agent.
func (s *agentState) logging(params map[string]any, _ *rpc.CancelToken, _ rpc.SignalFunc) (any, error) {
	name, err := node.StringParam(params, "level")
	if err != nil {
		return nil, err
	}

	switch name {
	case "debug", "info", "warn", "error":
	default:
		return nil, node.InvalidParameters(fmt.Sprintf("unknown log level %q", name))
	}

	s.level.Set(slogLevel(name))
	s.logger.Info("log level changed", "level", name)
	return map[string]any{"level": name}, nil
}
