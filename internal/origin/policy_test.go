package origin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signagehub/edge/internal/config"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(config.CORSConfig{
		AllowOrigins:        []string{"https://app.example.com", "*.partner.io"},
		AllowOriginPatterns: []string{`^https://preview-\d+\.example\.net$`},
		TrustedSuffixes:     []string{".up.railway.app", "vercel.app"},
		AllowPrivateNetwork: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestIsAllowed(t *testing.T) {
	p := testPolicy(t)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://app.localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://192.168.1.40:3000", true},
		{"http://10.0.0.12", true},
		{"http://172.20.1.1", true},
		{"http://[::1]:3000", true},
		{"https://app.example.com", true},
		{"https://app.example.com/", true},
		{"https://APP.example.com", true},
		{"https://cdn.partner.io", true},
		{"https://signage-web.up.railway.app", true},
		{"https://my.vercel.app", true},
		{"https://preview-42.example.net", true},
		{"https://preview-x.example.net", false},
		{"https://evil.example.org", false},
		{"https://app.example.com.evil.org", false},
		{"http://172.32.0.1", false},
		{"https://up.railway.app.evil.com", false},
		{"null", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := p.IsAllowed(tt.origin); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestPrivateNetworkDisabled(t *testing.T) {
	p, err := New(config.CORSConfig{AllowOrigins: []string{"https://app.example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	if p.IsAllowed("http://localhost:5173") {
		t.Error("localhost should be rejected when private network access is off")
	}
}

func TestWildcardAll(t *testing.T) {
	p, _ := New(config.CORSConfig{AllowOrigins: []string{"*"}})
	if !p.IsAllowed("https://anything.example") {
		t.Error("* should allow all origins")
	}
}

func TestInvalidPattern(t *testing.T) {
	if _, err := New(config.CORSConfig{AllowOriginPatterns: []string{"("}}); err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestPreflightAllowed(t *testing.T) {
	p := testPolicy(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	req.Header.Set("Access-Control-Request-Headers", "authorization, x-tenant")
	rec := httptest.NewRecorder()

	if !p.WritePreflight(rec, req) {
		t.Fatal("preflight should be allowed")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	h := rec.Header()
	expected := map[string]string{
		"Access-Control-Allow-Origin":      "https://app.example.com",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Allow-Methods":     "PATCH",
		"Access-Control-Allow-Headers":     "authorization, x-tenant",
		"Access-Control-Max-Age":           "86400",
	}
	for k, want := range expected {
		if got := h.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if len(h.Values("Vary")) != 3 {
		t.Errorf("Vary = %v", h.Values("Vary"))
	}
}

func TestPreflightDefaultsWithoutRequestHeaders(t *testing.T) {
	p := testPolicy(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	p.WritePreflight(rec, req)

	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("default methods should be sent")
	}
	if rec.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("default headers should be sent")
	}
}

func TestPreflightRejected(t *testing.T) {
	p := testPolicy(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec := httptest.NewRecorder()

	if p.WritePreflight(rec, req) {
		t.Fatal("preflight should be rejected")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("no CORS headers on rejection")
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["error"] != "Not allowed by CORS" || body["details"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestApplyReplacesUpstreamHeaders(t *testing.T) {
	p := testPolicy(t)

	h := http.Header{}
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET")
	h.Set("Content-Type", "application/json")

	p.Apply(h, "https://app.example.com")

	if got := h.Values("Access-Control-Allow-Origin"); len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("Allow-Origin = %v", got)
	}
	if h.Get("Access-Control-Allow-Methods") != "" {
		t.Error("upstream Allow-Methods should be removed")
	}
	if h.Get("Content-Type") != "application/json" {
		t.Error("unrelated headers must survive")
	}

	h.Set("Access-Control-Allow-Origin", "*")
	p.Apply(h, "https://evil.example.org")
	if h.Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should end with no CORS headers")
	}
}
