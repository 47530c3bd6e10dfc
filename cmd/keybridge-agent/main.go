// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/keybridge-labs/keybridge/lib/config"
	"github.com/keybridge-labs/keybridge/lib/version"
	"github.com/keybridge-labs/keybridge/rpc"
	"github.com/keybridge-labs/keybridge/trace"
	"github.com/keybridge-labs/keybridge/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		tracePath  string
		logLevel   string
		logFormat  string
	)

	flagSet := pflag.NewFlagSet("keybridge-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: the file named by $KEYBRIDGE_CONFIG, if set)")
	flagSet.StringVar(&listen, "listen", "", "serve sessions on a unix socket at this path instead of stdio")
	flagSet.StringVar(&tracePath, "trace", "", "record every frame to this CBOR file (a .zst suffix compresses)")
	flagSet.StringVar(&logLevel, "log-level", "", "log verbosity: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "", "log output format: json, text")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other
	// keybridge binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("keybridge-agent")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags override the config file. Changed() distinguishes an
	// explicit empty flag value from an unset flag.
	if flagSet.Changed("listen") {
		cfg.Listen = listen
	}
	if flagSet.Changed("trace") {
		cfg.TracePath = tracePath
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.LogLevel))
	logger := newLogger(cfg.LogFormat, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var traceWriter *trace.Writer
	if cfg.TracePath != "" {
		traceWriter, err = trace.Create(cfg.TracePath)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		defer traceWriter.Close()
		logger.Info("frame tracing enabled", "path", cfg.TracePath)
	}

	state := &agentState{
		level:     level,
		logger:    logger,
		startedAt: time.Now(),
	}
	handler := buildRoot(state).Handler()

	if cfg.Listen != "" {
		return serveSocket(ctx, cfg, handler, traceWriter, logger)
	}
	return serveStdio(ctx, cfg, handler, traceWriter, logger)
}

// loadConfig resolves the configuration: an explicit --config path
// wins, otherwise the KEYBRIDGE_CONFIG convention applies.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// serveStdio runs one protocol session over stdin/stdout. The session
// ends when the front end closes stdin; a termination signal closes
// stdin from this side so the session loop unblocks and drains.
func serveStdio(ctx context.Context, cfg *config.Config, handler rpc.Handler, traceWriter *trace.Writer, logger *slog.Logger) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "keybridge-agent: stdout is a terminal; this protocol is meant for a front end (try keybridge-call against --listen instead)")
	}

	send, recv := transport.Pipe(transport.PipeConfig{
		Reader:       os.Stdin,
		Writer:       os.Stdout,
		MaxLineBytes: cfg.MaxLineBytes,
		Trace:        traceWriter,
		Logger:       logger,
	})

	logger.Info("agent ready on stdio", "version", version.Short())

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- rpc.Process(send, recv, handler, logger)
	}()

	select {
	case err := <-sessionDone:
		if err != nil {
			return fmt.Errorf("session failed: %w", err)
		}
		logger.Info("session ended")
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		os.Stdin.Close()
		<-sessionDone
		return nil
	}
}

// serveSocket runs the unix socket server: one session per connection
// until the context is cancelled.
func serveSocket(ctx context.Context, cfg *config.Config, handler rpc.Handler, traceWriter *trace.Writer, logger *slog.Logger) error {
	server, err := transport.NewServer(transport.ServerConfig{
		Path:         cfg.Listen,
		Handler:      handler,
		Logger:       logger,
		Trace:        traceWriter,
		MaxLineBytes: cfg.MaxLineBytes,
	})
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// newLogger builds the agent's logger. JSON on stderr is the default;
// "text" is for humans watching a terminal.
func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

// slogLevel maps a validated config level name to its slog level.
func slogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Keybridge agent — manages hardware security keys for a front end.

Speaks a newline-delimited JSON protocol: the front end sends command
frames, the agent answers each with exactly one success or error frame,
with progress signals in between. By default the agent serves a single
session over stdin/stdout for the front end that spawned it.

Usage:
  keybridge-agent [flags]

Examples:
  # Serve the spawning front end over stdio
  keybridge-agent

  # Serve multiple front ends over a unix socket
  keybridge-agent --listen /run/user/1000/keybridge.sock

  # Capture every frame for a bug report
  keybridge-agent --trace session.cbor.zst

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
