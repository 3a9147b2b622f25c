// Package server implements the acceptor/event loop (C4): it listens on a
// TCP socket, accepts connections under the rate limiter and session cap,
// creates a session.Session + request session.Context per client, and
// dispatches the handshake to the configured protocol driver. Grounded on
// carlosrabelo-karoo/core/internal/proxy/proxy.go's AcceptLoop (limiter
// check, capacity check, register, `go` the per-connection handler,
// context-cancellation-closes-listener shutdown) almost directly; the
// per-connection body is new, driving internal/protocol instead of the
// teacher's Stratum ClientLoop.
package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/carlosrabelo/rps/internal/metrics"
	"github.com/carlosrabelo/rps/internal/protocol"
	"github.com/carlosrabelo/rps/internal/ratelimit"
	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/upstream"
	"github.com/carlosrabelo/rps/pkg/logger"
)

// Protocol identifies which request-side driver a Server instance speaks,
// per spec.md §6 ("Application-layer protocol is selected per server
// instance by configuration").
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS5 Protocol = "socks5"
	ProtocolSOCKS4 Protocol = "socks4"
)

// Config is the subset of internal/config.ProxyConfig (plus the resolved
// upstream registry) a Server needs.
type Config struct {
	Listen      string
	Protocol    Protocol
	Creds       protocol.Credentials
	RequireHost bool
	Realm       string
	IdleTimeout time.Duration
	MaxSessions int
	DialTimeout time.Duration
}

// Server is the acceptor: one TCP listener, one rate limiter, one upstream
// registry, shared across every accepted session.
type Server struct {
	cfg      Config
	registry *upstream.Registry
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector

	activeSessions atomic.Int64
	ln             net.Listener
	listening      chan struct{}
}

// New builds a Server. registry must already be running its Refresher in
// the background; Serve blocks on registry.Ready() before accepting so no
// client is served before at least one successful pool load (spec.md
// §4.6 "Readiness").
func New(cfg Config, registry *upstream.Registry, limiter *ratelimit.Limiter, m *metrics.Collector) *Server {
	return &Server{cfg: cfg, registry: registry, limiter: limiter, metrics: m, listening: make(chan struct{})}
}

// Addr blocks until Serve has bound its listener and returns its address.
// Mainly useful in tests that configure Listen as "host:0" and need the
// OS-assigned port.
func (s *Server) Addr() net.Addr {
	<-s.listening
	return s.ln.Addr()
}

// Serve listens on cfg.Listen and accepts connections until ctx is
// cancelled, at which point the listener is closed and Serve returns nil.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	close(s.listening)
	logger.Notice("server: listening on %s (%s)", s.cfg.Listen, s.cfg.Protocol)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	select {
	case <-s.registry.Ready():
	case <-ctx.Done():
		return nil
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("server: accept error: %v", err)
			continue
		}

		if s.limiter != nil && !s.limiter.AllowConnection(conn.RemoteAddr()) {
			logger.Warn("server: rejecting %s: rate limit exceeded", conn.RemoteAddr())
			conn.Close()
			continue
		}

		if s.cfg.MaxSessions > 0 && s.activeSessions.Load() >= int64(s.cfg.MaxSessions) {
			logger.Warn("server: rejecting %s: session cap reached", conn.RemoteAddr())
			if s.limiter != nil {
				s.limiter.ReleaseConnection(conn.RemoteAddr())
			}
			conn.Close()
			continue
		}

		go s.handle(ctx, conn)
	}
}

// handle drives one accepted connection end to end: session/context setup,
// handshake, upstream selection, forward dial, success reply, tunnel, and
// teardown. Every exit path falls through to the deferred session.Close,
// matching the invariant that a session is only freed once both contexts
// are closed (spec.md §3, §4.4).
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	peerAddr := conn.RemoteAddr().String()

	s.activeSessions.Add(1)
	if s.metrics != nil {
		s.metrics.IncrementSessions()
	}
	defer func() {
		s.activeSessions.Add(-1)
		if s.metrics != nil {
			s.metrics.DecrementSessions()
		}
		if s.limiter != nil {
			s.limiter.ReleaseConnection(conn.RemoteAddr())
		}
	}()

	sess := session.New(peerAddr)
	defer sess.Close()

	req := session.NewContext(sess, session.RoleRequest, conn, s.cfg.IdleTimeout, s.onTimeout)
	sess.Request = req
	req.ArmTimer()

	target, clientProto, err := s.handshake(req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementHandshakeBad()
		}
		logger.Debug("server: handshake from %s failed: %v", peerAddr, err)
		return
	}

	up, err := s.registry.Get(clientProto)
	if err != nil {
		logger.Warn("server: no upstream for %s (client %s): %v", clientProto, peerAddr, err)
		s.respondNoUpstream(req)
		return
	}

	// Forward.Dial performs the whole upstream-side handshake (dial +
	// upstream CONNECT/SOCKS5 negotiation) before returning; the forward
	// context's own state lattice is advanced after the fact to record the
	// phases it conceptually passed through (spec.md §4.3's
	// forward_connect -> forward_handshake -> forward_auth sequence).
	fwdConn, err := (protocol.Forward{DialTimeout: s.cfg.DialTimeout}).Dial(ctx, up, target)
	if err != nil {
		logger.Warn("server: forward dial to %s:%d failed for %s: %v", up.Host, up.Port, peerAddr, err)
		s.respondNoUpstream(req)
		return
	}

	fwd := session.NewContext(sess, session.RoleForward, fwdConn, s.cfg.IdleTimeout, s.onTimeout)
	sess.Forward = fwd
	fwd.Advance(session.StateForwardConnect)
	fwd.Advance(session.StateForwardHandshake)
	fwd.Advance(session.StateForwardAuth)

	if err := s.respondOK(req); err != nil {
		logger.Debug("server: writing success reply to %s failed: %v", peerAddr, err)
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementHandshakeOK()
	}

	req.Advance(session.StateTunnel)
	fwd.Advance(session.StateTunnel)

	// The inactivity timer only guards the handshake phase (spec.md §4.3:
	// "a timer fire in any pre-tunnel state is treated as a handshake
	// timeout"). protocol.Relay never calls Context.Write, so it never
	// resets these timers; stopping them here avoids a stale handshake
	// deadline killing a long-lived tunnel that happens to go quiet.
	req.StopTimer()
	fwd.StopTimer()

	protocol.Relay(req, fwd, s.metrics)
}

// handshake dispatches to the configured protocol's request-side driver
// and returns the parsed ConnectTarget plus the upstream.Protocol tag the
// registry should be queried with.
func (s *Server) handshake(req *session.Context) (protocol.ConnectTarget, upstream.Protocol, error) {
	switch s.cfg.Protocol {
	case ProtocolSOCKS5:
		target, err := protocol.SOCKS5Driver{Creds: s.cfg.Creds}.Handshake(req)
		return target, upstream.ProtoSOCKS5, err
	case ProtocolSOCKS4:
		// No dedicated SOCKS4 upstream protocol tag exists (spec.md §3's
		// Upstream.Proto enum is socks5/http/http_tunnel only); a SOCKS4
		// client is forwarded through a socks5-tagged upstream pool, the
		// nearest connect-capable match (DESIGN.md, "Open Question
		// decisions").
		target, err := protocol.SOCKS4Driver{Creds: s.cfg.Creds}.Handshake(req)
		return target, upstream.ProtoSOCKS5, err
	default:
		target, err := protocol.HTTPDriver{Creds: s.cfg.Creds, RequireHost: s.cfg.RequireHost, Realm: s.cfg.Realm}.Handshake(req)
		return target, upstream.ProtoHTTPTunnel, err
	}
}

// respondOK writes the configured protocol's success reply once the
// forward side's own handshake has completed.
func (s *Server) respondOK(req *session.Context) error {
	switch s.cfg.Protocol {
	case ProtocolSOCKS5:
		return protocol.SOCKS5Driver{Creds: s.cfg.Creds}.RespondOK(req, nil, 0)
	case ProtocolSOCKS4:
		return protocol.SOCKS4Driver{Creds: s.cfg.Creds}.RespondOK(req, nil, 0)
	default:
		return protocol.HTTPDriver{Creds: s.cfg.Creds, RequireHost: s.cfg.RequireHost, Realm: s.cfg.Realm}.RespondOK(req)
	}
}

// onTimeout is the inactivity-timer callback: it closes the fired context
// and, if the session has now fully torn down, lets the deferred
// sess.Close in handle observe Closed on its next call (Close is
// idempotent, so this and the deferred call race safely).
func (s *Server) onTimeout(c *session.Context) {
	logger.Debug("server: %s context for %s timed out", c.Role, c.PeerAddr)
	c.Close()
}

func (s *Server) respondNoUpstream(req *session.Context) {
	switch s.cfg.Protocol {
	case ProtocolSOCKS5:
		protocol.SOCKS5Driver{Creds: s.cfg.Creds}.RespondFailure(req)
	case ProtocolSOCKS4:
		protocol.SOCKS4Driver{Creds: s.cfg.Creds}.RespondFailure(req)
	default:
		protocol.HTTPDriver{Creds: s.cfg.Creds, RequireHost: s.cfg.RequireHost, Realm: s.cfg.Realm}.RespondBadGateway(req)
	}
}
