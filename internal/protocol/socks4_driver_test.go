package protocol

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/socks4"
)

func newTestContext(t *testing.T, role session.Role) (*session.Context, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	sess := session.New("1.2.3.4:1234")
	return session.NewContext(sess, role, a, 0, nil), b
}

func TestSOCKS4DriverHandshakeNoCreds(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	raw := []byte{socks4.Version4, socks4.CmdConnect, 0x01, 0xBB, 93, 184, 216, 34, 0x00}
	go peer.Write(raw)

	d := SOCKS4Driver{}
	target, err := d.Handshake(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Host != "93.184.216.34" || target.Port != 443 {
		t.Errorf("unexpected target: %+v", target)
	}
	if ctx.State() != session.StateExchange {
		t.Errorf("expected state exchange, got %v", ctx.State())
	}
}

func TestSOCKS4DriverHandshakeUserIDMismatch(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	var raw bytes.Buffer
	raw.Write([]byte{socks4.Version4, socks4.CmdConnect, 0x01, 0xBB, 93, 184, 216, 34})
	raw.WriteString("wronguser")
	raw.WriteByte(0x00)
	go peer.Write(raw.Bytes())

	reply := make([]byte, 8)
	go func() {
		r := bufio.NewReader(peer)
		r.Read(reply)
	}()

	d := SOCKS4Driver{Creds: Credentials{Username: "expected"}}
	_, err := d.Handshake(ctx)
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestSOCKS4DriverRespondOK(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := peer.Read(buf)
		done <- buf[:n]
	}()

	d := SOCKS4Driver{}
	if err := d.RespondOK(ctx, net.IPv4(0, 0, 0, 0), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := <-done
	want := []byte{0x00, socks4.ReplyGranted, 0x00, 0x00, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected reply bytes: %v, want %v", got, want)
	}
}
