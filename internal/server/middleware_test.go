package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/testutil"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	auth := config.AuthConfig{Enabled: true, APIToken: "secret-token"}
	h := newTestHandler(t, auth, fakeChannel(up, "ch1", "fake-model"))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no_token", "", "", http.StatusUnauthorized},
		{"wrong_token", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer_token", "Authorization", "Bearer secret-token", http.StatusOK},
		{"x_api_key", "x-api-key", "secret-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthenticate_DisabledAllowsAnonymous(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	h := newTestHandler(t, config.AuthConfig{}, fakeChannel(up, "ch1", "fake-model"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestAdminAuthenticate(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()

	// Disabled admin section rejects even a correct token.
	h := newTestHandler(t, config.AuthConfig{}, fakeChannel(up, "ch1", "fake-model"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/channels", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin = %d, want 403", rec.Code)
	}

	auth := config.AuthConfig{Admin: config.AdminConfig{Enabled: true, AdminToken: "admin-token"}}
	h = newTestHandler(t, auth, fakeChannel(up, "ch2", "fake-model"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/channels", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong admin token = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/channels", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid admin token = %d, want 200", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	if got := bearerToken(req); got != "abc" {
		t.Errorf("bearer = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "xyz")
	if got := bearerToken(req); got != "xyz" {
		t.Errorf("x-api-key = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := bearerToken(req); got != "" {
		t.Errorf("non-bearer scheme = %q, want empty", got)
	}
}

func TestSessionKey_Stable(t *testing.T) {
	t.Parallel()

	mk := func(token, ua, addr string) string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", ua)
		req.RemoteAddr = addr
		return sessionKey(token, req)
	}

	a := mk("tok-0123456789", "curl/8.0", "10.0.0.1:1234")
	b := mk("tok-0123456789", "curl/8.0", "10.0.0.1:9999")
	if a != b {
		t.Error("session key should ignore the client port")
	}
	if a == mk("tok-0123456789", "curl/8.0", "10.0.0.2:1234") {
		t.Error("different client ip should yield a different key")
	}
	if a == mk("other-9876543210", "curl/8.0", "10.0.0.1:1234") {
		t.Error("different token should yield a different key")
	}

	// Oversized user agents are truncated, not rejected.
	long := strings.Repeat("x", 200)
	if mk("tok-0123456789", long, "10.0.0.1:1") != mk("tok-0123456789", long+"tail", "10.0.0.1:1") {
		t.Error("user agent beyond 64 chars should not affect the key")
	}
}

func TestStatusWriter_CapturesFirstStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)
	sw.WriteHeader(http.StatusOK)
	if sw.status != http.StatusTeapot {
		t.Errorf("captured = %d, want first status", sw.status)
	}
}
