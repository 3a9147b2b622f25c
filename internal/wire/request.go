// Package wire implements the byte-level parsers and serializer for the
// HTTP CONNECT handshake: request line, header lines, Proxy-Authorization
// credentials, and the response writer. Every parser is a table-driven
// scanner over a caller-supplied slice; none allocate I/O buffers or block.
package wire

import (
	"strconv"

	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

// Method is the recognized HTTP request-line method token.
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodConnect
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodConnect:
		return "CONNECT"
	default:
		return "UNKNOWN"
	}
}

// Request is the parsed form of an inbound HTTP CONNECT request line plus
// its headers.
type Request struct {
	Method   Method
	Host     string
	Port     uint16
	Protocol string
	Headers  Headers
}

func errMalformed(msg string) error {
	return apperrors.New(apperrors.CategoryParse, "wire.malformed", msg)
}

type lineState int

const (
	stateStart lineState = iota
	stateMethod
	stateSpaceBeforeHost
	stateHost
	statePort
	stateSpaceBeforeProtocol
	stateProtocol
	stateEnd
)

// ParseRequestLine parses one HTTP request line (CRLF already stripped),
// e.g. "CONNECT example.com:443 HTTP/1.1". It fixes the original C parser's
// undefined behavior on an empty line by rejecting it outright instead of
// reading uninitialized start/end offsets.
func ParseRequestLine(line string) (Request, error) {
	if len(line) == 0 {
		return Request{}, errMalformed("empty request line")
	}

	var req Request
	state := stateStart
	start := 0
	protoStart, protoEnd := -1, -1

	for i := 0; i < len(line); i++ {
		ch := line[i]

		switch state {
		case stateStart:
			start = i
			if ch == ' ' {
				continue
			}
			state = stateMethod

		case stateMethod:
			if ch == ' ' {
				req.Method = parseMethodToken(line[start:i])
				state = stateSpaceBeforeHost
				continue
			}
			if (ch < 'A' || ch > 'Z') && ch != '_' {
				return Request{}, errMalformed("invalid method")
			}

		case stateSpaceBeforeHost:
			start = i
			if ch == ' ' {
				continue
			}
			state = stateHost

		case stateHost:
			if ch == ':' {
				if i-start <= 0 {
					return Request{}, errMalformed("invalid host")
				}
				req.Host = line[start:i]
				start = i + 1
				state = statePort
				continue
			}
			if ch == ' ' {
				return Request{}, errMalformed("missing port")
			}
			// Deliberately permissive: admits punycode/IDNA hostnames.
			if ch < '-' || ch > 'z' {
				return Request{}, errMalformed("invalid host")
			}

		case statePort:
			if ch >= '0' && ch <= '9' {
				continue
			}
			if ch == ' ' {
				portLen := i - start
				if portLen <= 0 || portLen >= 6 {
					return Request{}, errMalformed("invalid port")
				}
				port, err := strconv.ParseUint(line[start:i], 10, 16)
				if err != nil {
					return Request{}, errMalformed("invalid port")
				}
				req.Port = uint16(port)
				state = stateSpaceBeforeProtocol
				continue
			}
			return Request{}, errMalformed("invalid port")

		case stateSpaceBeforeProtocol:
			start = i
			if ch == ' ' {
				continue
			}
			protoStart = i
			protoEnd = i
			state = stateProtocol

		case stateProtocol:
			if ch == ' ' {
				state = stateEnd
				continue
			}
			protoEnd = i

		case stateEnd:
			if ch != ' ' {
				return Request{}, errMalformed("junk in request line")
			}
		}
	}

	if protoStart < 0 || protoEnd < protoStart {
		return Request{}, errMalformed("invalid protocol")
	}

	req.Protocol = line[protoStart : protoEnd+1]

	if state != stateProtocol && state != stateEnd {
		return Request{}, errMalformed("parse failed")
	}

	return req, nil
}

func parseMethodToken(tok string) Method {
	switch {
	case tok == "GET":
		return MethodGet
	case tok == "POST":
		return MethodPost
	case tok == "CONNECT":
		return MethodConnect
	default:
		return MethodUnknown
	}
}

// Check enforces the request validity rules from the specification:
// method must be CONNECT, port must be in [1, 65535], and, when
// requireHost is set, a "host" header must be present.
func (r Request) Check(requireHost bool) error {
	if r.Method != MethodConnect {
		return apperrors.New(apperrors.CategoryPolicy, "wire.method", "only CONNECT is supported")
	}
	if r.Port == 0 {
		return apperrors.New(apperrors.CategoryPolicy, "wire.port", "invalid port")
	}
	if requireHost {
		if _, ok := r.Headers.Get("host"); !ok {
			return apperrors.New(apperrors.CategoryPolicy, "wire.host", "missing host header")
		}
	}
	return nil
}
