package protocol

import (
	"io"
	"net"

	"github.com/carlosrabelo/rps/internal/metrics"
	"github.com/carlosrabelo/rps/internal/session"
)

// Relay performs the tunnel phase (spec.md §4.3 state `tunnel`): a plain
// bidirectional byte copy between the request and forward contexts until
// either side closes. Grounded on the tunnel() shape common to
// CONNECT-proxy servers in the pack (half-close on EOF to unblock the
// other copy goroutine, wait for both directions) and adapted to also
// feed internal/metrics' byte counters.
//
// Both sides are read through their buffered session.Context.Reader()
// rather than the raw net.Conn: the handshake drivers read through that
// same bufio.Reader, which may have already pulled ahead bytes belonging
// to the tunnel payload (a client or upstream that pipelines its first
// tunneled bytes right after the handshake) into its internal buffer.
// Reading from the raw conn here would silently drop them.
func Relay(client, forward *session.Context, m *metrics.Collector) {
	done := make(chan struct{}, 2)

	cp := func(dst net.Conn, src io.Reader, count func(uint64)) {
		n, _ := io.Copy(dst, src)
		if count != nil {
			count(uint64(n))
		}
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}

	var toUpstream, fromUpstream func(uint64)
	if m != nil {
		toUpstream = m.AddBytesToUpstream
		fromUpstream = m.AddBytesFromUpstream
	}

	go cp(forward.Conn(), client.Reader(), toUpstream)
	go cp(client.Conn(), forward.Reader(), fromUpstream)

	<-done
	<-done
}
