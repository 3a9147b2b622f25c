package protocol

import (
	"bufio"
	"strings"

	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/wire"
	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

const maxHandshakeBytes = wire.MaxMessageLength

// Credentials is the proxy's own configured username/password, checked
// against a client's Proxy-Authorization header. An empty Username means
// "no authentication configured" (spec.md §4.3, handshake_req step 1).
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) configured() bool {
	return c.Username != ""
}

func (c Credentials) verify(user, pass string) bool {
	return c.Username == user && c.Password == pass
}

// HTTPDriver drives the request-side HTTP CONNECT handshake: parse the
// inbound request, branch on configured credentials exactly as
// original_source/src/proto/http.c's http_process_handshake does (no
// creds configured -> exchange; absent/wrong-schema/wrong creds -> 407),
// then hand back the parsed ConnectTarget once the context reaches
// session.StateExchange.
type HTTPDriver struct {
	Creds       Credentials
	RequireHost bool
	Realm       string
}

// readHandshake reads CRLF-terminated lines off ctx's reader until the
// blank line that terminates the header block, returning the raw bytes for
// wire.ParseRequest. Matches the reference parser's "read complete message
// before driving state" shape rather than streaming byte-by-byte.
func readHandshake(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryIO, "protocol.read", "reading handshake", err)
		}
		buf = append(buf, line...)
		if len(buf) > maxHandshakeBytes {
			return nil, apperrors.New(apperrors.CategoryParse, "protocol.oversized", "handshake exceeds maximum message length")
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" && strings.HasSuffix(line, "\r\n") {
			break
		}
	}
	return buf, nil
}

// Handshake reads and validates the inbound CONNECT request, driving ctx
// through StateHandshake -> StateAuth? -> StateExchange, writing a 407
// response itself when authentication is required and missing/invalid.
// On success it returns the parsed target and advances ctx to
// session.StateExchange; on a 407 branch it returns ErrAuthRequired after
// having already written the challenge (caller must still close ctx).
func (d HTTPDriver) Handshake(ctx *session.Context) (ConnectTarget, error) {
	if err := ctx.Advance(session.StateHandshake); err != nil {
		return ConnectTarget{}, err
	}

	raw, err := readHandshake(ctx.Reader())
	if err != nil {
		return ConnectTarget{}, err
	}

	req, err := wire.ParseRequest(raw)
	if err != nil {
		return ConnectTarget{}, err
	}
	if err := req.Check(d.RequireHost); err != nil {
		return ConnectTarget{}, err
	}

	if d.Creds.configured() {
		if err := ctx.Advance(session.StateAuth); err != nil {
			return ConnectTarget{}, err
		}
		if !d.authenticates(req.Headers) {
			d.respondAuthRequired(ctx)
			return ConnectTarget{}, ErrAuthRequired
		}
	}

	if err := ctx.Advance(session.StateExchange); err != nil {
		return ConnectTarget{}, err
	}

	return ConnectTarget{Host: req.Host, Port: req.Port}, nil
}

// authenticates reports whether the last-write-wins Proxy-Authorization
// header (spec.md §4.3 tie-break) carries valid Basic credentials.
func (d HTTPDriver) authenticates(headers wire.Headers) bool {
	raw, ok := headers.Get("proxy-authorization")
	if !ok {
		return false
	}
	auth, err := wire.ParseAuth(raw)
	if err != nil || auth.Scheme != wire.AuthBasic {
		return false
	}
	user, pass, ok := wire.DecodeBasicAuth(auth.Param)
	if !ok {
		return false
	}
	return d.Creds.verify(user, pass)
}

func (d HTTPDriver) respondAuthRequired(ctx *session.Context) {
	realm := d.Realm
	if realm == "" {
		realm = "rps"
	}
	resp := wire.ResponseProxyAuthRequired(realm)
	var buf strings.Builder
	resp.WriteTo(&buf)
	ctx.Write([]byte(buf.String()))
}

// RespondOK writes the success response once the forward side has
// completed its own handshake (spec.md §6: a single trailing blank line).
func (d HTTPDriver) RespondOK(ctx *session.Context) error {
	resp := wire.ResponseOK()
	var buf strings.Builder
	resp.WriteTo(&buf)
	_, err := ctx.Write([]byte(buf.String()))
	return err
}

// RespondBadGateway writes the 502-equivalent rejection used when no
// viable upstream was available (spec.md §7, category "upstream").
func (d HTTPDriver) RespondBadGateway(ctx *session.Context) error {
	resp := wire.ResponseBadGateway()
	var buf strings.Builder
	resp.WriteTo(&buf)
	_, err := ctx.Write([]byte(buf.String()))
	return err
}
