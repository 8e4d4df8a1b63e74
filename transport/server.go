// server.go accepts command-transport connections and hands parsed COMMAND
// frames to a dispatcher (in practice, control.Thread.Submit wrapped as a
// Dispatcher closure by cmd/digsd). One connection serves one peer for its
// lifetime; a KEEPALIVE frame is echoed back so long-lived clients can
// detect a dead link, and every other non-COMMAND frame kind is ignored.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Dispatcher runs a parsed command line (verb + arguments) on behalf of
// peerIdentity and returns the response line to send back to the client.
type Dispatcher func(ctx context.Context, peerIdentity, commandLine string) (response string, err error)

// Server listens for command-transport connections.
type Server struct {
	Auth       Authenticator
	Dispatch   Dispatcher
	ReadTimeout time.Duration
}

// NewServer constructs a Server with a default 60s per-frame read timeout.
func NewServer(auth Authenticator, dispatch Dispatcher) *Server {
	return &Server{Auth: auth, Dispatch: dispatch, ReadTimeout: 60 * time.Second}
}

// Serve accepts connections on ln until ctx is cancelled or ln.Accept
// fails permanently.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}

	authFrame, err := ReadFrame(conn)
	if err != nil {
		slog.Warn("transport: reading auth frame failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	peer, err := s.Auth.Authenticate(ctx, string(authFrame.Payload))
	if err != nil {
		slog.Warn("transport: authentication failed", "remote", conn.RemoteAddr(), "error", err)
		_ = WriteFrame(conn, Frame{Kind: KindState, Payload: []byte("AUTH_FAILED")})
		return
	}
	slog.Info("transport: peer authenticated", "peer", peer, "remote", conn.RemoteAddr())

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		f, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("transport: reading frame failed", "peer", peer, "error", err)
			return
		}

		switch f.Kind {
		case KindKeepalive:
			if err := WriteFrame(conn, Frame{Kind: KindKeepalive}); err != nil {
				slog.Warn("transport: keepalive reply failed", "peer", peer, "error", err)
				return
			}
		case KindCommand:
			line := strings.TrimRight(string(f.Payload), "\n")
			resp, err := s.Dispatch(ctx, peer, line)
			out := Frame{Kind: KindState}
			if err != nil {
				out.Payload = []byte("ERROR " + err.Error())
			} else {
				out.Payload = []byte("OK " + resp)
			}
			if werr := WriteFrame(conn, out); werr != nil {
				slog.Warn("transport: writing command reply failed", "peer", peer, "error", werr)
				return
			}
		default:
			slog.Debug("transport: ignoring unsupported frame kind on command channel", "peer", peer, "kind", f.Kind)
		}
	}
}
