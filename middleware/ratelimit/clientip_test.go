package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultClientIPFunc_IgnoresXForwardedForByDefault(t *testing.T) {
	fn := DefaultClientIPFunc(false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestDefaultClientIPFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultClientIPFunc(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultClientIPFunc_RemoteAddrWithoutPort(t *testing.T) {
	fn := DefaultClientIPFunc(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9"

	if got := fn(r); got != "10.0.0.9" {
		t.Fatalf("expected raw remote addr, got %q", got)
	}

	r.RemoteAddr = ""
	if got := fn(r); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
}
