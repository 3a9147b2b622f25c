package protocol

import (
	"net"

	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/socks"
)

// SOCKS5Driver drives the request-side SOCKS5 handshake: method
// negotiation (RFC 1928 §3), optional username/password sub-negotiation
// (RFC 1929), and the connect request. Grounded on internal/socks, which
// already implements the wire reads/writes; this driver owns only the
// session.Context state-lattice sequencing and the credential check.
type SOCKS5Driver struct {
	Creds Credentials
}

// Handshake drives ctx through StateHandshake -> StateAuth? ->
// StateExchange, returning the parsed ConnectTarget. If the client's
// method list doesn't include whatever this driver requires, or the
// sub-negotiated credentials are wrong, it writes the appropriate
// rejection itself and returns ErrAuthRequired or ErrPolicyRejected.
func (d SOCKS5Driver) Handshake(ctx *session.Context) (ConnectTarget, error) {
	if err := ctx.Advance(session.StateHandshake); err != nil {
		return ConnectTarget{}, err
	}

	greeting, err := socks.ReadGreeting(ctx.Reader())
	if err != nil {
		return ConnectTarget{}, err
	}

	if d.Creds.configured() {
		if !greeting.Supports(socks.MethodUserPassword) {
			socks.WriteMethodSelection(ctx.Writer(), socks.MethodNoAcceptable)
			ctx.Writer().Flush()
			return ConnectTarget{}, ErrPolicyRejected
		}
		if err := socks.WriteMethodSelection(ctx.Writer(), socks.MethodUserPassword); err != nil {
			return ConnectTarget{}, err
		}
		if err := ctx.Writer().Flush(); err != nil {
			return ConnectTarget{}, err
		}

		if err := ctx.Advance(session.StateAuth); err != nil {
			return ConnectTarget{}, err
		}

		auth, err := socks.ReadUserPasswordAuth(ctx.Reader())
		if err != nil {
			return ConnectTarget{}, err
		}
		ok := d.Creds.verify(auth.Username, auth.Password)
		if err := socks.WriteUserPasswordReply(ctx.Writer(), ok); err != nil {
			return ConnectTarget{}, err
		}
		if err := ctx.Writer().Flush(); err != nil {
			return ConnectTarget{}, err
		}
		if !ok {
			return ConnectTarget{}, ErrAuthRequired
		}
	} else {
		if !greeting.Supports(socks.MethodNoAuth) {
			socks.WriteMethodSelection(ctx.Writer(), socks.MethodNoAcceptable)
			ctx.Writer().Flush()
			return ConnectTarget{}, ErrPolicyRejected
		}
		if err := socks.WriteMethodSelection(ctx.Writer(), socks.MethodNoAuth); err != nil {
			return ConnectTarget{}, err
		}
		if err := ctx.Writer().Flush(); err != nil {
			return ConnectTarget{}, err
		}
	}

	req, err := socks.ReadRequest(ctx.Reader())
	if err != nil {
		return ConnectTarget{}, err
	}
	if req.Command != socks.CmdConnect {
		socks.WriteReply(ctx.Writer(), socks.ReplyCommandNotSupp, nil, 0)
		ctx.Writer().Flush()
		return ConnectTarget{}, ErrPolicyRejected
	}

	if err := ctx.Advance(session.StateExchange); err != nil {
		return ConnectTarget{}, err
	}

	return ConnectTarget{Host: req.Host, Port: req.Port}, nil
}

// RespondOK writes the SOCKS5 success reply with the given bound forward
// address once the forward side's own handshake has completed.
func (d SOCKS5Driver) RespondOK(ctx *session.Context, bindAddr []byte, bindPort uint16) error {
	if err := socks.WriteReply(ctx.Writer(), socks.ReplySucceeded, bindAddr, bindPort); err != nil {
		return err
	}
	return ctx.Writer().Flush()
}

// RespondFailure writes a general-failure SOCKS5 reply when no viable
// upstream was available or the forward dial failed.
func (d SOCKS5Driver) RespondFailure(ctx *session.Context) error {
	if err := socks.WriteReply(ctx.Writer(), socks.ReplyGeneralFailure, nil, 0); err != nil {
		return err
	}
	return ctx.Writer().Flush()
}
