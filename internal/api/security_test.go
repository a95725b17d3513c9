package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"remotedesk/internal/config"
)

func TestResponsesAreMarkedPrivate(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sessionID, joinToken := env.activeSession(t)

	for _, rec := range []*httptest.ResponseRecorder{
		env.do(t, http.MethodGet, "/healthz", "", nil),
		env.do(t, http.MethodGet, "/v1/sessions/"+sessionID, joinToken, nil),
		env.do(t, http.MethodGet, "/v1/sessions/"+sessionID, "", nil),
	} {
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Fatalf("expected no-store got %q", got)
		}
		if got := rec.Header().Get("Referrer-Policy"); got != "no-referrer" {
			t.Fatalf("expected no-referrer got %q", got)
		}
		if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("expected nosniff got %q", got)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"bearer  abc ":  "abc",
		"BEARER abc":    "abc",
		"Basic abc":     "",
		"Bearer":        "",
		"":              "",
		"Bearerabc def": "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := bearerToken(req); got != want {
			t.Fatalf("%q: expected %q got %q", header, want, got)
		}
	}
}

func TestRequestTokenFallsBackToQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/host?token=from-query", nil)
	if got := requestToken(req); got != "from-query" {
		t.Fatalf("expected query token got %q", got)
	}
	req.Header.Set("Authorization", "Bearer from-header")
	if got := requestToken(req); got != "from-header" {
		t.Fatalf("expected header token got %q", got)
	}
}

func TestPeerHashHidesAddress(t *testing.T) {
	hashed := peerHash("203.0.113.9")
	if len(hashed) != 16 || hashed == "203.0.113.9" {
		t.Fatalf("unexpected hash %q", hashed)
	}
	if peerHash("203.0.113.9") != hashed {
		t.Fatalf("hash is not stable")
	}
	if peerHash("203.0.113.10") == hashed {
		t.Fatalf("distinct addresses collide")
	}
	if peerHash("") != "" {
		t.Fatalf("empty address should stay empty")
	}
}

func TestRateLimitKeysOnClientAddress(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitV1 = config.RateLimit{Max: 1, Window: time.Minute}
	env := newTestEnv(t, cfg)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
		req.RemoteAddr = addr + ":40000"
		rec := httptest.NewRecorder()
		env.server.Router.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("198.51.100.1"); code == http.StatusTooManyRequests {
		t.Fatalf("first client should not be limited")
	}
	if code := send("198.51.100.2"); code == http.StatusTooManyRequests {
		t.Fatalf("second client has its own window")
	}
	if code := send("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeat client got %d", code)
	}
}
