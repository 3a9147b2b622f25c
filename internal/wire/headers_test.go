package wire

import "testing"

func TestParseHeaderLineBasic(t *testing.T) {
	h := Headers{}
	if err := ParseHeaderLine("Host: example.com:443", h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := h.Get("host")
	if !ok || v != "example.com:443" {
		t.Errorf("expected host=example.com:443, got %q (ok=%v)", v, ok)
	}
}

func TestHeaderKeyCaseInsensitive(t *testing.T) {
	permutations := []string{"Proxy-Authorization", "PROXY-AUTHORIZATION", "proxy-authorization", "pRoXy-AuThOrIzAtIoN"}
	for _, key := range permutations {
		h := Headers{}
		h.Set(key, "x")
		if _, ok := h.Get("proxy-authorization"); !ok {
			t.Errorf("lookup failed for permutation %q", key)
		}
	}
}

func TestHeaderLastWriteWins(t *testing.T) {
	h := Headers{}
	h.Set("X-Custom", "first")
	h.Set("x-custom", "second")
	v, _ := h.Get("X-CUSTOM")
	if v != "second" {
		t.Errorf("expected last write to win, got %q", v)
	}
}

func TestParseHeaderLineRejectsJunkKey(t *testing.T) {
	h := Headers{}
	if err := ParseHeaderLine("Bad Key: value", h); err == nil {
		t.Fatal("expected error on space inside header key")
	}
}
