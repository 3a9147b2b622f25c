package protocol

import (
	"bufio"
	"encoding/base64"
	"io"
	"testing"

	"github.com/carlosrabelo/rps/internal/session"
)

// TestHTTPDriverHandshakeNoAuthConfigured covers spec.md §8 scenario 1:
// a happy CONNECT with no credentials configured goes straight to exchange.
func TestHTTPDriverHandshakeNoAuthConfigured(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	go peer.Write([]byte(req))

	d := HTTPDriver{}
	target, err := d.Handshake(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Host != "example.com" || target.Port != 443 {
		t.Errorf("unexpected target: %+v", target)
	}
	if ctx.State() != session.StateExchange {
		t.Errorf("expected state exchange, got %v", ctx.State())
	}
}

// TestHTTPDriverHandshakeMissingAuth covers scenario 2: credentials
// configured, client sends none -> 407, no exchange.
func TestHTTPDriverHandshakeMissingAuth(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	go peer.Write([]byte(req))

	respDone := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		respDone <- line
	}()

	d := HTTPDriver{Creds: Credentials{Username: "u", Password: "p"}}
	_, err := d.Handshake(ctx)
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}

	status := <-respDone
	if status != "HTTP/1.1 407 Proxy Authentication Required\r\n" {
		t.Errorf("unexpected status line: %q", status)
	}
}

// TestHTTPDriverHandshakeWrongAuth covers scenario 3: wrong credentials.
func TestHTTPDriverHandshakeWrongAuth(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	creds := base64.StdEncoding.EncodeToString([]byte("u:wrong"))
	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\nProxy-Authorization: Basic " + creds + "\r\n\r\n"
	go peer.Write([]byte(req))

	go func() {
		io.Copy(io.Discard, peer)
	}()

	d := HTTPDriver{Creds: Credentials{Username: "u", Password: "p"}}
	_, err := d.Handshake(ctx)
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

// TestHTTPDriverHandshakeCorrectAuth covers scenario 4: matching credentials
// reach exchange directly.
func TestHTTPDriverHandshakeCorrectAuth(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	creds := base64.StdEncoding.EncodeToString([]byte("u:p"))
	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\nProxy-Authorization: Basic " + creds + "\r\n\r\n"
	go peer.Write([]byte(req))

	d := HTTPDriver{Creds: Credentials{Username: "u", Password: "p"}}
	target, err := d.Handshake(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Port != 443 {
		t.Errorf("unexpected target: %+v", target)
	}
	if ctx.State() != session.StateExchange {
		t.Errorf("expected state exchange, got %v", ctx.State())
	}
}

// TestHTTPDriverHandshakeMalformedMethod covers scenario 5: a non-CONNECT
// method is rejected by policy with no reply written.
func TestHTTPDriverHandshakeMalformedMethod(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	req := "PATCH example.com:443 HTTP/1.1\r\n\r\n"
	go peer.Write([]byte(req))

	d := HTTPDriver{}
	_, err := d.Handshake(ctx)
	if err == nil {
		t.Fatal("expected an error for non-CONNECT method")
	}
}

func TestHTTPDriverRespondOK(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	done := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		done <- line
	}()

	d := HTTPDriver{}
	if err := d.RespondOK(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-done; got != "HTTP/1.1 200 Connection established\r\n" {
		t.Errorf("unexpected status line: %q", got)
	}
}
