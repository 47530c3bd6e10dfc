// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/keybridge-labs/keybridge/lib/config"
	"github.com/keybridge-labs/keybridge/lib/version"
	"github.com/keybridge-labs/keybridge/rpc"
	"github.com/keybridge-labs/keybridge/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		socketPath string
		target     []string
		bodyFlag   string
	)

	flagSet := pflag.NewFlagSet("keybridge-call", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", config.DefaultSocketPath(), "agent socket path")
	flagSet.StringSliceVar(&target, "target", nil, "node path the action applies to (comma-separated)")
	flagSet.StringVar(&bodyFlag, "body", "", "command body as a JSON object (\"-\" reads stdin)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other
	// keybridge binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("keybridge-call")
		return 0
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return 0
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return 1
	}

	command, err := buildCommand(args[0], target, bodyFlag, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connecting to agent at %s: %v\n", socketPath, err)
		return 1
	}
	defer conn.Close()

	if err := writeFrame(conn, command); err != nil {
		fmt.Fprintf(os.Stderr, "error: sending command: %v\n", err)
		return 1
	}

	// Forward Ctrl-C to the agent as a cancel signal. The agent then
	// answers the in-flight command with a cancelled error frame, which
	// ends the response loop below the normal way.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if err := writeFrame(conn, &rpc.Signal{Status: rpc.SignalCancel}); err != nil {
				fmt.Fprintf(os.Stderr, "error: sending cancel: %v\n", err)
				return
			}
		}
	}()

	return readResponses(conn)
}

// buildCommand assembles the command frame from the parsed arguments.
// The body must be a JSON object to match what the agent accepts.
func buildCommand(action string, target []string, bodyFlag string, stdin io.Reader) (*rpc.Command, error) {
	body := map[string]any{}
	if bodyFlag != "" {
		raw := []byte(bodyFlag)
		if bodyFlag == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("reading body from stdin: %w", err)
			}
			raw = data
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("body must be a JSON object: %w", err)
		}
	}
	if target == nil {
		target = []string{}
	}
	return &rpc.Command{Action: action, Target: target, Body: body}, nil
}

// writeFrame sends one frame as a JSON line.
func writeFrame(conn net.Conn, frame rpc.Frame) error {
	line, err := rpc.EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(line, '\n'))
	return err
}

// responseEnvelope carries the one field the client routes on. The
// full frame types live in the rpc package; the wire format is the
// contract.
type responseEnvelope struct {
	Kind string `json:"kind"`
}

// readResponses prints each response line and decides the exit code
// from the final result frame: 0 for success, 1 for error. Signal
// frames are progress; the loop keeps reading after them.
func readResponses(conn net.Conn) int {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), transport.DefaultMaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fmt.Println(string(line))

		var envelope responseEnvelope
		if err := json.Unmarshal(line, &envelope); err != nil {
			fmt.Fprintf(os.Stderr, "error: unreadable frame from agent: %v\n", err)
			return 1
		}

		switch envelope.Kind {
		case "success":
			return 0
		case "error":
			return 1
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: reading from agent: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "error: connection closed before a result arrived\n")
	return 1
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Keybridge one-shot client — send a single command to a running agent.

The agent must be serving on a unix socket (keybridge-agent --listen).
Every response frame is printed as a JSON line; progress signals stream
as they arrive and the final success or error frame sets the exit code.

Usage:
  keybridge-call [flags] ACTION

Examples:
  # Describe the agent's command tree
  keybridge-call get

  # Agent build identity and binary hash
  keybridge-call diagnose

  # Raise log verbosity on a running agent
  keybridge-call logging --body '{"level":"debug"}'

  # Address a node below the root
  keybridge-call get --target piv,slots

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
