package protocol

import (
	"io"
	"net"
	"testing"

	"github.com/carlosrabelo/rps/internal/session"
	"github.com/carlosrabelo/rps/internal/socks"
)

func TestSOCKS5DriverHandshakeNoAuth(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	go func() {
		peer.Write([]byte{socks.Version5, 1, socks.MethodNoAuth})
		peer.Write([]byte{socks.Version5, socks.CmdConnect, 0x00, socks.AddrIPv4, 93, 184, 216, 34, 0x01, 0xBB})
	}()

	selDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		io.ReadFull(peer, buf)
		selDone <- buf
	}()

	d := SOCKS5Driver{}
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

	sel := <-selDone
	if sel[0] != socks.Version5 || sel[1] != socks.MethodNoAuth {
		t.Errorf("unexpected method selection: %v", sel)
	}
}

func TestSOCKS5DriverHandshakeUserPasswordWrongCreds(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	go func() {
		peer.Write([]byte{socks.Version5, 1, socks.MethodUserPassword})
		peer.Write([]byte{0x01, 1, 'u', 5, 'w', 'r', 'o', 'n', 'g'})
	}()

	go func() {
		// drain method-selection and auth-reply bytes
		buf := make([]byte, 4)
		io.ReadFull(peer, buf)
	}()

	d := SOCKS5Driver{Creds: Credentials{Username: "u", Password: "p"}}
	_, err := d.Handshake(ctx)
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestSOCKS5DriverHandshakeUserPasswordCorrectCreds(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	go func() {
		peer.Write([]byte{socks.Version5, 1, socks.MethodUserPassword})
		peer.Write([]byte{0x01, 1, 'u', 1, 'p'})
		peer.Write([]byte{socks.Version5, socks.CmdConnect, 0x00, socks.AddrIPv4, 93, 184, 216, 34, 0x01, 0xBB})
	}()

	go func() {
		buf := make([]byte, 4)
		io.ReadFull(peer, buf)
	}()

	d := SOCKS5Driver{Creds: Credentials{Username: "u", Password: "p"}}
	target, err := d.Handshake(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Port != 443 {
		t.Errorf("unexpected target: %+v", target)
	}
}

func TestSOCKS5DriverRespondOK(t *testing.T) {
	ctx, peer := newTestContext(t, session.RoleRequest)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 10)
		n, _ := peer.Read(buf)
		done <- buf[:n]
	}()

	d := SOCKS5Driver{}
	if err := d.RespondOK(ctx, net.IPv4(0, 0, 0, 0), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := <-done
	if got[0] != socks.Version5 || got[1] != socks.ReplySucceeded {
		t.Errorf("unexpected reply bytes: %v", got)
	}
}
