// Package protocol implements the handshake drivers (C2): the request-side
// HTTP CONNECT and SOCKS5 drivers that advance a session.Context through
// the state lattice in internal/session, the forward-side dialers that
// open a connection through whatever upstream internal/upstream selected,
// and the bidirectional tunnel relay. Grounded on
// original_source/src/proto/http.c for the HTTP CONNECT branch logic and
// on WhileEndless-go-rawhttp/pkg/transport/transport.go's
// connectViaHTTPProxy/connectViaSOCKS4Proxy/connectViaSOCKS5Proxy for the
// forward-side dial sequences.
package protocol

import (
	"fmt"

	"github.com/carlosrabelo/rps/internal/upstream"
)

// ConnectTarget is the destination a client asked to reach, independent of
// which inbound protocol produced it.
type ConnectTarget struct {
	Host string
	Port uint16
}

// Addr renders host:port for dialing.
func (t ConnectTarget) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ClientProtocol maps an inbound driver to the upstream.Protocol tag it
// requests from the registry when selecting a forward upstream.
type ClientProtocol = upstream.Protocol
