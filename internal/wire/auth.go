package wire

import (
	"encoding/base64"
	"strings"
)

// AuthScheme is the Proxy-Authorization schema tag.
type AuthScheme int

const (
	AuthUnknown AuthScheme = iota
	AuthBasic
	AuthDigest
)

// Auth is the parsed form of a Proxy-Authorization header value.
type Auth struct {
	Scheme AuthScheme
	Param  string
}

type authState int

const (
	aStateStart authState = iota
	aStateSchema
	aStateSpaceBeforeParam
	aStateParam
	aStateEnd
)

// ParseAuth parses a "Proxy-Authorization" value, e.g. "Basic dXNlcjpwYXNz".
// The original C parser falls through its terminal state to NOT_REACHED()
// on any trailing non-space byte; here that case returns a typed parse
// error instead of aborting the process.
func ParseAuth(credentials string) (Auth, error) {
	var auth Auth
	state := aStateStart
	start := 0
	paramStart, paramEnd := -1, -1

	for i := 0; i < len(credentials); i++ {
		ch := credentials[i]

		switch state {
		case aStateStart:
			start = i
			if ch == ' ' {
				continue
			}
			state = aStateSchema

		case aStateSchema:
			if ch == ' ' {
				auth.Scheme = parseSchemaToken(credentials[start:i])
				start = i
				state = aStateSpaceBeforeParam
			}

		case aStateSpaceBeforeParam:
			start = i
			if ch == ' ' {
				continue
			}
			paramStart = i
			paramEnd = i
			state = aStateParam

		case aStateParam:
			if ch == ' ' {
				state = aStateEnd
				continue
			}
			paramEnd = i

		case aStateEnd:
			if ch != ' ' {
				return Auth{}, errMalformed("junk in credentials")
			}
		}
	}

	if paramStart < 0 || paramEnd < paramStart {
		return Auth{}, errMalformed("invalid auth param")
	}

	auth.Param = credentials[paramStart : paramEnd+1]
	return auth, nil
}

func parseSchemaToken(tok string) AuthScheme {
	switch tok {
	case "Basic":
		return AuthBasic
	case "Digest":
		return AuthDigest
	default:
		return AuthUnknown
	}
}

// DecodeBasicAuth decodes a base64 "user:pass" parameter and splits it once
// on ':'.
func DecodeBasicAuth(param string) (user, pass string, ok bool) {
	plain, err := base64.StdEncoding.DecodeString(param)
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(plain), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(plain[:idx]), string(plain[idx+1:]), true
}

// EncodeBasicAuth builds the base64("user:pass") parameter used both to
// generate a Proxy-Authorization request header and in tests.
func EncodeBasicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
