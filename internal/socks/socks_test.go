package socks

import (
	"bytes"
	"net"
	"testing"
)

func TestReadGreetingNoAuth(t *testing.T) {
	raw := []byte{Version5, 2, MethodNoAuth, MethodUserPassword}
	g, err := ReadGreeting(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Supports(MethodNoAuth) || !g.Supports(MethodUserPassword) {
		t.Errorf("expected both methods supported, got %v", g.Methods)
	}
	if g.Supports(0x03) {
		t.Errorf("did not expect method 0x03 supported")
	}
}

func TestReadGreetingRejectsWrongVersion(t *testing.T) {
	raw := []byte{0x04, 1, MethodNoAuth}
	if _, err := ReadGreeting(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for non-v5 greeting")
	}
}

func TestWriteMethodSelection(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMethodSelection(&buf, MethodNoAuth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{Version5, MethodNoAuth}) {
		t.Errorf("unexpected bytes: %v", buf.Bytes())
	}
}

func TestReadRequestIPv4(t *testing.T) {
	raw := []byte{Version5, CmdConnect, 0x00, AddrIPv4, 93, 184, 216, 34, 0x01, 0xBB}
	req, err := ReadRequest(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Host != "93.184.216.34" || req.Port != 443 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestReadRequestDomain(t *testing.T) {
	name := "example.com"
	raw := append([]byte{Version5, CmdConnect, 0x00, AddrDomain, byte(len(name))}, name...)
	raw = append(raw, 0x01, 0xBB)
	req, err := ReadRequest(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Host != "example.com" || req.Port != 443 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestWriteReplySucceeded(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReply(&buf, ReplySucceeded, net.IPv4(1, 2, 3, 4), 1080); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{Version5, ReplySucceeded, 0x00, AddrIPv4, 1, 2, 3, 4, 0x04, 0x38}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("unexpected reply bytes: %v, want %v", buf.Bytes(), want)
	}
}

func TestUserPasswordAuthRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 5})
	buf.WriteString("alice")
	buf.WriteByte(10)
	buf.WriteString("wonderland")

	auth, err := ReadUserPasswordAuth(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.Username != "alice" || auth.Password != "wonderland" {
		t.Errorf("unexpected auth: %+v", auth)
	}
}
