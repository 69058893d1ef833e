package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskhive.org/internal/auth"
	"taskhive.org/internal/push"
	"taskhive.org/internal/relay"
	"taskhive.org/internal/todo"
)

func sessionCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSessionCookieAttributes(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = false // production attributes
	codec, err := auth.NewCodec(cfg.AuthSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc := todo.NewService(todo.NewInMemory(), relay.NewLoopback(), fixedSender{}, todo.Options{})
	api := New(svc, push.NewRegistry(), codec, cfg, ReadyProbe{}, "test")
	handler := api.Handler()

	request := func(method, path, body string, cookies ...*http.Cookie) *http.Response {
		req := httptest.NewRequest(method, path, nil)
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Result()
	}

	resp := request(http.MethodPost, "/api/v1/auth/login/code", `{"phone":"79990001122"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request code: unexpected status %d", resp.StatusCode)
	}
	resp = request(http.MethodPost, "/api/v1/auth/login", `{"phone":"79990001122","code":"1234"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: unexpected status %d", resp.StatusCode)
	}

	cookie := sessionCookie(t, resp, cfg.CookieName)
	if cookie == nil {
		t.Fatal("login must set the session cookie")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}
	if !cookie.Secure {
		t.Fatal("session cookie must be secure outside debug mode")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected SameSite: %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Fatalf("unexpected path: %q", cookie.Path)
	}
	if cookie.MaxAge != int(cfg.SessionTTL.Seconds()) {
		t.Fatalf("unexpected max-age: %d", cookie.MaxAge)
	}

	// Every authenticated request re-mints the cookie (sliding expiry).
	resp = request(http.MethodGet, "/api/v1/users/me", "", cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: unexpected status %d", resp.StatusCode)
	}
	refreshed := sessionCookie(t, resp, cfg.CookieName)
	if refreshed == nil || refreshed.Value == "" {
		t.Fatal("authenticated request must refresh the session cookie")
	}
	if refreshed.MaxAge != int(cfg.SessionTTL.Seconds()) {
		t.Fatalf("refreshed cookie max-age: %d", refreshed.MaxAge)
	}

	// Tampered tokens are rejected before any handler runs.
	resp = request(http.MethodGet, "/api/v1/users/me", "", &http.Cookie{
		Name:  cfg.CookieName,
		Value: cookie.Value + "x",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("tampered token: expected 403, got %d", resp.StatusCode)
	}

	// Logout answers with a deletion cookie.
	resp = request(http.MethodPost, "/api/v1/auth/logout", "")
	cleared := sessionCookie(t, resp, cfg.CookieName)
	if cleared == nil || cleared.MaxAge != -1 {
		t.Fatalf("logout must expire the cookie: %+v", cleared)
	}
}

func TestCookieDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"", ""},
		{"todo.example.com", "example.com"},
		{"todo.example.com:8443", "example.com"},
		{"a.b.example.com", "example.com"},
		{"localhost", ""},
		{"127.0.0.1:8080", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.host != "" {
			req.Header.Set("X-Forwarded-Host", tc.host)
		}
		if got := cookieDomain(req); got != tc.want {
			t.Fatalf("cookieDomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}
