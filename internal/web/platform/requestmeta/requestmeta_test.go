package requestmeta

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHTTPS(t *testing.T) {
	t.Parallel()

	plain := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	if IsHTTPS(plain) {
		t.Fatalf("expected plain request to resolve http")
	}

	secure := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	secure.TLS = &tls.ConnectionState{}
	secure.URL.Scheme = ""
	if !IsHTTPS(secure) {
		t.Fatalf("expected TLS request to resolve https")
	}
}

func TestIsHTTPSForwardedProtoRequiresPolicy(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	if IsHTTPS(req) {
		t.Fatalf("expected forwarded proto ignored by default")
	}
	if !IsHTTPSWithPolicy(req, SchemePolicy{TrustForwardedProto: true}) {
		t.Fatalf("expected forwarded proto honored with policy")
	}
}

func TestHasSameOriginProof(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "http://app.example.com/auth/login", nil)
	req.Host = "app.example.com"

	if HasSameOriginProof(req) {
		t.Fatalf("expected no proof without Origin or Referer")
	}

	req.Header.Set("Origin", "http://app.example.com")
	if !HasSameOriginProof(req) {
		t.Fatalf("expected same-origin proof from matching Origin")
	}

	req.Header.Set("Origin", "http://evil.example.com")
	if HasSameOriginProof(req) {
		t.Fatalf("expected mismatched Origin rejected")
	}
}
