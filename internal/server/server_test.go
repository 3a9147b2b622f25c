package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carlosrabelo/rps/internal/upstream"
)

// fakeUpstreamProxy accepts one CONNECT and then echoes bytes back,
// standing in for a real upstream proxy reached through Forward.dialHTTPConnect.
func fakeUpstreamProxy(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		buf := make([]byte, 5)
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()
	return ln
}

func poolAtListener(t *testing.T, ln net.Listener) *upstream.Pool {
	t.Helper()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"host":"` + host + `","port":` + port + `,"proto":"http_tunnel"}]`))
	}))
	t.Cleanup(apiSrv.Close)

	pool := upstream.NewPool(upstream.ProtoHTTPTunnel, apiSrv.URL, time.Second)
	if err := pool.Refresh(context.Background()); err != nil {
		t.Fatalf("pool refresh: %v", err)
	}
	return pool
}

func TestServeHTTPConnectEndToEnd(t *testing.T) {
	upstreamLn := fakeUpstreamProxy(t)
	defer upstreamLn.Close()

	pool := poolAtListener(t, upstreamLn)
	registry := upstream.NewRegistry([]*upstream.Pool{pool}, upstream.ScheduleRR, false)
	go registry.Refresher(context.Background(), time.Hour)

	srv := New(Config{
		Listen:      "127.0.0.1:0",
		Protocol:    ProtocolHTTP,
		IdleTimeout: 2 * time.Second,
		DialTimeout: 2 * time.Second,
	}, registry, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)

	select {
	case <-registry.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("registry never became ready")
	}

	addr := srv.Addr()

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if status != "HTTP/1.1 200 Connection established\r\n" {
		t.Fatalf("unexpected status line: %q", status)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	conn.Write([]byte("ping!"))
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("reading echoed tunnel bytes: %v", err)
	}
	if string(buf[:n]) != "ping!" {
		t.Fatalf("unexpected echoed bytes: %q", buf[:n])
	}
}
