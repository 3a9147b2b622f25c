package protocol

import (
	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/socks4"
)

// SOCKS4Driver drives the request-side SOCKS4/4a handshake (spec.md §1,
// "optionally SOCKS4"). SOCKS4 has no sub-negotiation round trip: the
// USERID field doubles as the whole auth story, checked directly against
// the configured username when credentials are configured. There is no
// password field in the protocol, so Credentials.Password is not checked.
type SOCKS4Driver struct {
	Creds Credentials
}

// Handshake reads one SOCKS4/4a CONNECT request and advances ctx straight
// from StateHandshake to StateExchange (SOCKS4 has no separate auth phase
// to advance through). On a non-CONNECT command or a failed userid check
// it writes the rejection reply itself and returns ErrPolicyRejected /
// ErrAuthRequired.
func (d SOCKS4Driver) Handshake(ctx *session.Context) (ConnectTarget, error) {
	if err := ctx.Advance(session.StateHandshake); err != nil {
		return ConnectTarget{}, err
	}

	req, err := socks4.ReadRequest(ctx.Reader())
	if err != nil {
		return ConnectTarget{}, err
	}

	if req.Command != socks4.CmdConnect {
		socks4.WriteReply(ctx.Writer(), socks4.ReplyRejected, nil, 0)
		ctx.Writer().Flush()
		return ConnectTarget{}, ErrPolicyRejected
	}

	if d.Creds.configured() && req.UserID != d.Creds.Username {
		socks4.WriteReply(ctx.Writer(), socks4.ReplyIdentdMismatch, nil, 0)
		ctx.Writer().Flush()
		return ConnectTarget{}, ErrAuthRequired
	}

	if err := ctx.Advance(session.StateExchange); err != nil {
		return ConnectTarget{}, err
	}

	return ConnectTarget{Host: req.Host, Port: req.Port}, nil
}

// RespondOK writes the SOCKS4 success reply.
func (d SOCKS4Driver) RespondOK(ctx *session.Context, bindAddr []byte, bindPort uint16) error {
	if err := socks4.WriteReply(ctx.Writer(), socks4.ReplyGranted, bindAddr, bindPort); err != nil {
		return err
	}
	return ctx.Writer().Flush()
}

// RespondFailure writes a rejected reply when no viable upstream was
// available or the forward dial failed.
func (d SOCKS4Driver) RespondFailure(ctx *session.Context) error {
	if err := socks4.WriteReply(ctx.Writer(), socks4.ReplyRejected, nil, 0); err != nil {
		return err
	}
	return ctx.Writer().Flush()
}
