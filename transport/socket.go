// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/keybridge-labs/keybridge/lib/netutil"
	"github.com/keybridge-labs/keybridge/rpc"
	"github.com/keybridge-labs/keybridge/trace"
)

// ServerConfig holds the parameters for creating a socket server.
type ServerConfig struct {
	// Path is the Unix socket path. The parent directory must
	// exist. Required.
	Path string

	// Handler dispatches every command on every session. Handlers
	// run one session at a time per connection but sessions run
	// concurrently, so the handler must be safe for concurrent use.
	// Required.
	Handler rpc.Handler

	// Logger receives operational messages. Per-session messages
	// carry a "session" attribute. Required.
	Logger *slog.Logger

	// Trace, if non-nil, records frames from all sessions, labeled
	// by session ID.
	Trace *trace.Writer

	// MaxLineBytes caps a single frame line per session. Zero means
	// DefaultMaxLineBytes.
	MaxLineBytes int
}

// Server accepts connections on a Unix domain socket and runs one
// frame session per connection.
type Server struct {
	path         string
	handler      rpc.Handler
	logger       *slog.Logger
	traceWriter  *trace.Writer
	maxLineBytes int

	activeSessions sync.WaitGroup
}

// NewServer creates a socket server from the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("transport server: Path is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("transport server: Handler is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("transport server: Logger is required")
	}
	return &Server{
		path:         cfg.Path,
		handler:      cfg.Handler,
		logger:       cfg.Logger,
		traceWriter:  cfg.Trace,
		maxLineBytes: cfg.MaxLineBytes,
	}, nil
}

// Serve listens on the socket and accepts connections until ctx is
// cancelled. Each connection runs a full session: commands dispatch
// in arrival order within a session, independently across sessions.
//
// On cancellation the listener closes first, then every live
// connection, so in-flight sessions observe end-of-stream and wind
// down through their own shutdown path. Serve blocks until all
// sessions have ended, then removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	// Remove a stale socket from a previous run. A live agent on
	// the same path would lose its listener here; running two
	// agents against one socket is operator error.
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.path, err)
	}
	defer os.Remove(s.path)

	// Owner-only access. Peer credentials are still checked per
	// connection; the mode keeps other users from even queueing on
	// the listener.
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	s.logger.Info("agent socket listening", "path", s.path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.activeSessions.Add(1)
		go func() {
			defer s.activeSessions.Done()
			s.serveConnection(ctx, conn)
		}()
	}

	s.activeSessions.Wait()
	return nil
}

// serveConnection authenticates the peer and runs one session over
// the connection.
func (s *Server) serveConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.NewString()
	logger := s.logger.With("session", sessionID)

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		logger.Error("connection is not a unix socket", "type", fmt.Sprintf("%T", conn))
		return
	}
	credentials, err := peerCredentials(unixConn)
	if err != nil {
		logger.Warn("peer credential check failed", "error", err)
		return
	}
	if int(credentials.Uid) != os.Getuid() {
		logger.Warn("refused connection from other user",
			"peer_uid", credentials.Uid,
			"peer_pid", credentials.Pid,
		)
		return
	}

	// Close the connection when the server shuts down so the
	// session's blocked read returns. The deferred Close above
	// handles the normal end-of-session case.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	logger.Info("session started", "peer_pid", credentials.Pid)

	send, recv := Pipe(PipeConfig{
		Reader:       conn,
		Writer:       conn,
		MaxLineBytes: s.maxLineBytes,
		Trace:        s.traceWriter,
		TraceSession: sessionID,
		Logger:       logger,
	})

	if err := rpc.Process(send, recv, s.handler, logger); err != nil {
		// A vanished front end fails the pending send. Routine
		// for socket sessions; only genuine transport faults get
		// elevated.
		if netutil.IsExpectedCloseError(err) || ctx.Err() != nil {
			logger.Info("session ended", "reason", err)
		} else {
			logger.Warn("session failed", "error", err)
		}
		return
	}
	logger.Info("session ended")
}
