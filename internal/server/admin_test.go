package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/testutil"
)

func adminHandler(t *testing.T, up *testutil.FakeUpstream) http.Handler {
	t.Helper()
	auth := config.AuthConfig{Admin: config.AdminConfig{Enabled: true, AdminToken: "admin-token"}}
	return newTestHandler(t, auth, fakeChannel(up, "ch1", "fake-model"))
}

func adminDo(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_ChannelLifecycle(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	h := adminHandler(t, up)

	rec := adminDo(h, http.MethodGet, "/admin/v1/channels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var list struct {
		Channels []struct {
			ID          string  `json:"id"`
			Enabled     bool    `json:"enabled"`
			HealthScore float64 `json:"health_score"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Channels) != 1 || !list.Channels[0].Enabled || list.Channels[0].HealthScore != 1.0 {
		t.Errorf("channels = %+v", list.Channels)
	}

	if rec := adminDo(h, http.MethodPost, "/admin/v1/channels/ch1/disable", ""); rec.Code != http.StatusOK {
		t.Fatalf("disable = %d, body %s", rec.Code, rec.Body)
	}
	rec = adminDo(h, http.MethodGet, "/admin/v1/channels", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Channels[0].Enabled {
		t.Error("channel should be disabled")
	}

	if rec := adminDo(h, http.MethodPost, "/admin/v1/channels/ch1/enable", ""); rec.Code != http.StatusOK {
		t.Fatalf("enable = %d", rec.Code)
	}

	// Unknown channel maps onto 404.
	if rec := adminDo(h, http.MethodPost, "/admin/v1/channels/nope/disable", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown channel = %d, want 404", rec.Code)
	}
}

func TestAdmin_SetPriority(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	h := adminHandler(t, up)

	rec := adminDo(h, http.MethodPut, "/admin/v1/channels/ch1/priority", `{"priority": 7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("priority = %d, body %s", rec.Code, rec.Body)
	}

	// Missing field is a 400.
	rec = adminDo(h, http.MethodPut, "/admin/v1/channels/ch1/priority", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing priority = %d, want 400", rec.Code)
	}
}

func TestAdmin_BlacklistEndpoints(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	up.FailStatus = 401

	h := adminHandler(t, up)

	// Drive one failing request through the public surface to populate the
	// blacklist.
	body := `{"model":"fake-model","messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("chat = %d, want 503", rec.Code)
	}

	rec = adminDo(h, http.MethodGet, "/admin/v1/blacklist", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("blacklist = %d", rec.Code)
	}
	var bl struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bl); err != nil {
		t.Fatal(err)
	}
	if len(bl.Entries) == 0 {
		t.Fatal("auth failure should produce a blacklist entry")
	}

	rec = adminDo(h, http.MethodDelete, "/admin/v1/blacklist/ch1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d", rec.Code)
	}
	var cleared struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cleared); err != nil {
		t.Fatal(err)
	}
	if cleared.Removed == 0 {
		t.Error("clear should report removed entries")
	}
}

func TestAdmin_UsageAndCache(t *testing.T) {
	t.Parallel()

	up := testutil.NewFakeUpstream()
	defer up.Close()
	h := adminHandler(t, up)

	if rec := adminDo(h, http.MethodGet, "/admin/v1/usage/totals", ""); rec.Code != http.StatusOK {
		t.Errorf("usage totals = %d", rec.Code)
	}
	if rec := adminDo(h, http.MethodGet, "/admin/v1/sessions", ""); rec.Code != http.StatusOK {
		t.Errorf("sessions = %d", rec.Code)
	}
	if rec := adminDo(h, http.MethodPost, "/admin/v1/cache/purge", ""); rec.Code != http.StatusOK {
		t.Errorf("cache purge = %d", rec.Code)
	}
}
