// Package socks implements the inbound SOCKS5 (RFC 1928/1929) byte frames
// the request-side handshake driver needs: the client greeting, method
// selection, the CONNECT request, and the reply. Unlike
// golang.org/x/net/proxy (an outbound SOCKS5 *client*, used on the forward
// side by internal/protocol), nothing in the example pack implements an
// inbound SOCKS5 server, so these frames are hand-written against the RFC,
// the same way the reference C implementation hand-rolls its own HTTP
// parser instead of reaching for a library.
package socks

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

const Version5 = 0x05

// Authentication methods (RFC 1928 §3).
const (
	MethodNoAuth       byte = 0x00
	MethodUserPassword byte = 0x02
	MethodNoAcceptable byte = 0xFF
)

// CONNECT reply status codes (RFC 1928 §6).
const (
	ReplySucceeded        byte = 0x00
	ReplyGeneralFailure   byte = 0x01
	ReplyHostUnreachable  byte = 0x04
	ReplyConnRefused      byte = 0x05
	ReplyCommandNotSupp   byte = 0x07
	ReplyAddrTypeNotSupp  byte = 0x08
)

// Address types (RFC 1928 §5).
const (
	AddrIPv4   byte = 0x01
	AddrDomain byte = 0x03
	AddrIPv6   byte = 0x04
)

// Commands (RFC 1928 §4).
const CmdConnect byte = 0x01

func errMalformed(msg string) error {
	return apperrors.New(apperrors.CategoryParse, "socks.malformed", msg)
}

// Greeting is the client's initial method-negotiation message.
type Greeting struct {
	Methods []byte
}

// ReadGreeting reads "VER NMETHODS METHODS[NMETHODS]".
func ReadGreeting(r io.Reader) (Greeting, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Greeting{}, err
	}
	if hdr[0] != Version5 {
		return Greeting{}, errMalformed("unsupported socks version")
	}
	n := int(hdr[1])
	if n == 0 {
		return Greeting{}, errMalformed("no methods offered")
	}
	methods := make([]byte, n)
	if _, err := io.ReadFull(r, methods); err != nil {
		return Greeting{}, err
	}
	return Greeting{Methods: methods}, nil
}

// Supports reports whether the greeting offers the given method.
func (g Greeting) Supports(method byte) bool {
	for _, m := range g.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// WriteMethodSelection writes "VER METHOD".
func WriteMethodSelection(w io.Writer, method byte) error {
	_, err := w.Write([]byte{Version5, method})
	return err
}

// UserPasswordAuth is the RFC 1929 username/password sub-negotiation.
type UserPasswordAuth struct {
	Username string
	Password string
}

// ReadUserPasswordAuth reads "VER ULEN UNAME PLEN PASSWD".
func ReadUserPasswordAuth(r io.Reader) (UserPasswordAuth, error) {
	var verAndLen [2]byte
	if _, err := io.ReadFull(r, verAndLen[:]); err != nil {
		return UserPasswordAuth{}, err
	}
	uname := make([]byte, verAndLen[1])
	if _, err := io.ReadFull(r, uname); err != nil {
		return UserPasswordAuth{}, err
	}
	var plen [1]byte
	if _, err := io.ReadFull(r, plen[:]); err != nil {
		return UserPasswordAuth{}, err
	}
	passwd := make([]byte, plen[0])
	if _, err := io.ReadFull(r, passwd); err != nil {
		return UserPasswordAuth{}, err
	}
	return UserPasswordAuth{Username: string(uname), Password: string(passwd)}, nil
}

// WriteUserPasswordReply writes "VER STATUS" (0x00 = success).
func WriteUserPasswordReply(w io.Writer, ok bool) error {
	status := byte(0x01)
	if ok {
		status = 0x00
	}
	_, err := w.Write([]byte{0x01, status})
	return err
}

// Request is a parsed SOCKS5 CONNECT request.
type Request struct {
	Command byte
	Host    string
	Port    uint16
}

// ReadRequest reads "VER CMD RSV ATYP DST.ADDR DST.PORT".
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	if hdr[0] != Version5 {
		return Request{}, errMalformed("unsupported socks version")
	}

	var host string
	switch hdr[3] {
	case AddrIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return Request{}, err
		}
		host = net.IP(ip[:]).String()
	case AddrIPv6:
		var ip [16]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return Request{}, err
		}
		host = net.IP(ip[:]).String()
	case AddrDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Request{}, err
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return Request{}, err
		}
		host = string(name)
	default:
		return Request{}, errMalformed("unsupported address type")
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Request{}, err
	}

	return Request{
		Command: hdr[1],
		Host:    host,
		Port:    binary.BigEndian.Uint16(portBuf[:]),
	}, nil
}

// WriteReply writes "VER REP RSV ATYP BND.ADDR BND.PORT". bindAddr may be
// nil, in which case the reply carries the zero IPv4 address, matching the
// common "we don't track the real bind address" shortcut.
func WriteReply(w io.Writer, status byte, bindAddr net.IP, bindPort uint16) error {
	if bindAddr == nil || bindAddr.To4() == nil {
		bindAddr = net.IPv4zero
	} else {
		bindAddr = bindAddr.To4()
	}
	buf := make([]byte, 0, 10)
	buf = append(buf, Version5, status, 0x00, AddrIPv4)
	buf = append(buf, bindAddr.To4()...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, bindPort)
	buf = append(buf, portBuf...)
	_, err := w.Write(buf)
	return err
}

// Addr renders host:port for logging/dialing.
func (r Request) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
