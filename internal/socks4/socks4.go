// Package socks4 implements the minimal SOCKS4/4a CONNECT frame used for
// the optional SOCKS4 proxy protocol (spec.md §1, "optionally SOCKS4").
// Wire layout is grounded on
// WhileEndless-go-rawhttp/pkg/transport/transport.go's
// connectViaSOCKS4Proxy, which documents the same byte frame for the
// outbound-client direction; here it is read inbound instead of written.
package socks4

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"

	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

const Version4 = 0x04

const CmdConnect byte = 0x01

// Reply status codes.
const (
	ReplyGranted        byte = 0x5A
	ReplyRejected       byte = 0x5B
	ReplyNoIdentd       byte = 0x5C
	ReplyIdentdMismatch byte = 0x5D
)

func errMalformed(msg string) error {
	return apperrors.New(apperrors.CategoryParse, "socks4.malformed", msg)
}

// Request is a parsed SOCKS4/4a CONNECT request.
type Request struct {
	Command byte
	Host    string
	Port    uint16
	UserID  string
}

// ReadRequest reads "VER CMD PORT(2) IP(4) USERID NULL", with SOCKS4a
// domain-name extension: when IP is 0.0.0.x (x != 0), a NUL-terminated
// hostname follows the user ID instead of a literal address.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	if hdr[0] != Version4 {
		return Request{}, errMalformed("unsupported socks version")
	}

	cmd := hdr[1]
	port := binary.BigEndian.Uint16(hdr[2:4])
	ip := net.IPv4(hdr[4], hdr[5], hdr[6], hdr[7])

	userID, err := r.ReadString(0x00)
	if err != nil {
		return Request{}, errMalformed("missing user id terminator")
	}
	userID = userID[:len(userID)-1]

	isSocks4a := hdr[4] == 0 && hdr[5] == 0 && hdr[6] == 0 && hdr[7] != 0
	var host string
	if isSocks4a {
		name, err := r.ReadString(0x00)
		if err != nil {
			return Request{}, errMalformed("missing socks4a hostname terminator")
		}
		host = name[:len(name)-1]
	} else {
		host = ip.String()
	}

	return Request{Command: cmd, Host: host, Port: port, UserID: userID}, nil
}

// WriteReply writes "VER(0x00) STATUS PORT(2) IP(4)" — the classic SOCKS4
// reply has its first byte fixed at 0x00 (not the request version).
func WriteReply(w io.Writer, status byte, bindAddr net.IP, bindPort uint16) error {
	if bindAddr == nil || bindAddr.To4() == nil {
		bindAddr = net.IPv4zero
	}
	var buf bytes.Buffer
	buf.WriteByte(0x00)
	buf.WriteByte(status)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, bindPort)
	buf.Write(portBuf)
	buf.Write(bindAddr.To4())
	_, err := w.Write(buf.Bytes())
	return err
}
