package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxprep/voxprep/pkg/gateway/config"
)

func corsConfig(origins ...string) config.Config {
	m := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		m[o] = struct{}{}
	}
	return config.Config{CORSAllowedOrigins: m}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	h := CORS(corsConfig("https://app.example.com"), okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/questions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_PreflightDenied(t *testing.T) {
	h := CORS(corsConfig("https://app.example.com"), okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/questions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORS_SimpleRequestHeaders(t *testing.T) {
	h := CORS(corsConfig("https://app.example.com"), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/interviews", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin missing")
	}
	if rec.Header().Get("Access-Control-Expose-Headers") == "" {
		t.Fatalf("expose-headers missing")
	}
}

func TestCORS_DisabledWhenNoOrigins(t *testing.T) {
	h := CORS(corsConfig(), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/interviews", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("cors headers should not be attached when disabled")
	}
}
