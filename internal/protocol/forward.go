package protocol

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/carlosrabelo/rps/internal/upstream"
	"github.com/carlosrabelo/rps/internal/wire"
	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

// Forward drives the forward-side dial: connecting to the selected
// upstream proxy and, through it, to the client's requested target.
// Grounded on WhileEndless-go-rawhttp/pkg/transport/transport.go's
// connectViaHTTPProxy/connectViaSOCKS5Proxy dial sequences, repurposed:
// there the transport dials a remote proxy to reach its own caller's
// target; here it dials the upstream internal/upstream.Registry selected,
// to reach the client's ConnectTarget.
type Forward struct {
	DialTimeout time.Duration
}

// Dial opens a connection to target through up, dispatching on up.Proto.
// On success the returned net.Conn is already past the upstream's own
// handshake — ready for tunneling.
func (f Forward) Dial(ctx context.Context, up upstream.Upstream, target ConnectTarget) (net.Conn, error) {
	if f.DialTimeout <= 0 {
		f.DialTimeout = 30 * time.Second
	}

	switch up.Proto {
	case upstream.ProtoSOCKS5:
		return f.dialSOCKS5(ctx, up, target)
	case upstream.ProtoHTTPTunnel, upstream.ProtoHTTP:
		// "http" and "http_tunnel" upstream tags are both CONNECT-capable
		// proxies from the forward side's point of view: RPS never speaks
		// plain (non-CONNECT) HTTP to a remote (spec.md §1 Non-goals), so a
		// pool tagged plain "http" is dialed exactly like "http_tunnel".
		return f.dialHTTPConnect(ctx, up, target)
	default:
		return nil, apperrors.New(apperrors.CategoryConfig, "forward.proto", fmt.Sprintf("unsupported upstream protocol %q", up.Proto))
	}
}

func upstreamAddr(up upstream.Upstream) string {
	return fmt.Sprintf("%s:%d", up.Host, up.Port)
}

// dialSOCKS5 reuses golang.org/x/net/proxy (carried forward from
// carlosrabelo-karoo's internal/proxysocks wrapper) rather than hand-rolling
// the client-side SOCKS5 handshake a second time: the ecosystem dialer
// already implements the outbound RFC 1928 exchange the internal/socks
// package deliberately does NOT duplicate in the client direction.
func (f Forward) dialSOCKS5(ctx context.Context, up upstream.Upstream, target ConnectTarget) (net.Conn, error) {
	var auth *netproxy.Auth
	if up.Username != "" {
		auth = &netproxy.Auth{User: up.Username, Password: up.Password}
	}

	dialer, err := netproxy.SOCKS5("tcp", upstreamAddr(up), auth, &net.Dialer{Timeout: f.DialTimeout})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.socks5_dialer", "building socks5 dialer", err)
	}

	type contextDialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}
	if cd, ok := dialer.(contextDialer); ok {
		conn, err := cd.DialContext(ctx, "tcp", target.Addr())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.socks5_dial", "socks5 connect failed", err)
		}
		return conn, nil
	}

	conn, err := dialer.Dial("tcp", target.Addr())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.socks5_dial", "socks5 connect failed", err)
	}
	return conn, nil
}

// dialHTTPConnect connects to the upstream proxy and issues a CONNECT
// request for target, optionally carrying Proxy-Authorization if the
// upstream entry has credentials. Grounded on connectViaHTTPProxy's
// "dial, write CONNECT line + headers, read status line, drain headers"
// sequence.
func (f Forward) dialHTTPConnect(ctx context.Context, up upstream.Upstream, target ConnectTarget) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: f.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", upstreamAddr(up))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.http_dial", "connecting to upstream proxy", err)
	}

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", target.Addr())
	fmt.Fprintf(&req, "Host: %s\r\n", target.Addr())
	if up.Username != "" {
		req.WriteString("Proxy-Authorization: Basic ")
		req.WriteString(wire.EncodeBasicAuth(up.Username, up.Password))
		req.WriteString("\r\n")
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.http_write", "sending CONNECT request to upstream", err)
	}

	statusLine, err := readLineNoOverread(conn)
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.http_read", "reading CONNECT response from upstream", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, apperrors.New(apperrors.CategoryUpstream, "forward.http_rejected", "upstream CONNECT rejected: "+strings.TrimSpace(statusLine))
	}

	for {
		line, err := readLineNoOverread(conn)
		if err != nil {
			conn.Close()
			return nil, apperrors.Wrap(apperrors.CategoryIO, "forward.http_read", "reading CONNECT response headers from upstream", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	return conn, nil
}

// readLineNoOverread reads a single CRLF-terminated line one byte at a
// time. Unlike bufio.Reader, it never reads past the line boundary — the
// tunnel that starts immediately after this handshake hands conn straight
// to session.Context's own buffered reader, so any byte consumed here
// beyond the header block would be silently lost.
func readLineNoOverread(conn net.Conn) (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := conn.Read(b[:]); err != nil {
			return "", err
		}
		line = append(line, b[0])
		if b[0] == '\n' {
			return string(line), nil
		}
		if len(line) > wire.MaxMessageLength {
			return "", apperrors.New(apperrors.CategoryParse, "forward.http_oversized", "upstream CONNECT response line too long")
		}
	}
}

