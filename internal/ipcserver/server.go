// Package ipcserver implements the IPC Server (§4.D): a Unix domain
// socket accepting one JSON request per connection, dispatching to the
// durable store and the in-memory ambient routing signals, and replying
// with a single JSON response before closing the connection. Framing,
// peer-credential checks, and the connection-count ceiling are grounded
// on the daemon main-loop's flock-guarded single-instance pattern,
// adapted from process-lifetime locking to per-connection request
// handling.
package ipcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/capacitor-hq/capd/internal/config"
	"github.com/capacitor-hq/capd/internal/liveness"
	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/reducer"
	"github.com/capacitor-hq/capd/internal/routing"
	"github.com/capacitor-hq/capd/internal/store"
	"github.com/capacitor-hq/capd/internal/tmuxpoll"
)

const maxRequestBytes = 1 << 20 // 1 MiB; a hook event is a few hundred bytes at most

// Server is the daemon's single IPC endpoint.
type Server struct {
	SocketPath string
	Store      *store.Store
	ReduceCfg  reducer.Config
	Runtime    config.Runtime
	HomeDir    string
	Version    string
	Logger     *slog.Logger

	Poller     *tmuxpoll.Poller
	Reconciler *liveness.Reconciler

	RoutingMetrics routing.Metrics

	StartedAt time.Time

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
}

// ListenAndServe binds the Unix socket, removing any stale socket file
// left by a previous unclean shutdown, and serves connections until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if s.sem == nil {
		max := s.Runtime.MaxConnections
		if max <= 0 {
			max = 64
		}
		s.sem = make(chan struct{}, max)
	}

	_ = os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0o700); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger().Info("ipcserver: listening", "socket", s.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger().Warn("ipcserver: accept failed", "error", err)
			continue
		}

		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}

		select {
		case s.sem <- struct{}{}:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				s.handleConn(unixConn)
			}()
		default:
			s.reject(unixConn, protocol.ErrTooManyConnections, "daemon connection limit reached")
		}
	}
}

func (s *Server) readTimeout() time.Duration {
	if s.Runtime.ReadTimeout > 0 {
		return s.Runtime.ReadTimeout
	}
	return 500 * time.Millisecond
}

func (s *Server) reject(conn *net.UnixConn, code protocol.ErrorCode, msg string) {
	defer conn.Close()
	writeResponse(conn, errorResponse("", code, msg), s.readTimeout())
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()
	timeout := s.readTimeout()
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("ipcserver: handler panic", "panic", r)
			writeResponse(conn, errorResponse("", protocol.ErrSerializationError, "internal error"), timeout)
		}
	}()

	if peerCredentialCheckSupported {
		if uid, err := peerUID(conn); err != nil || uid != uint32(os.Getuid()) {
			writeResponse(conn, errorResponse("", protocol.ErrUnauthorizedPeer, "peer uid does not match daemon owner"), timeout)
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetWriteDeadline(time.Now().Add(timeout))

	lr := &limitedReader{r: conn, n: maxRequestBytes}
	dec := json.NewDecoder(lr)
	var req protocol.Request
	if err := dec.Decode(&req); err != nil {
		writeResponse(conn, errorResponse("", classifyDecodeError(err), err.Error()), timeout)
		return
	}

	resp := s.dispatch(req)
	writeResponse(conn, resp, timeout)
}

// classifyDecodeError maps a request-decode failure onto the closed error
// enum so callers never see a bare "unexpected EOF"-style message.
func classifyDecodeError(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, errRequestTooLarge):
		return protocol.ErrRequestTooLarge
	case errors.Is(err, io.EOF):
		return protocol.ErrEmptyRequest
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.ErrReadTimeout
	}
	return protocol.ErrInvalidJSON
}

// routingSignals gathers every ambient routing signal currently available
// from the tmux poller.
func (s *Server) routingSignals() []routing.Signal {
	if s.Poller == nil {
		return nil
	}
	return s.Poller.Signals()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
