package api

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"
)

const indistinguishableErrorCode = "not_found"

// Unauthorized callers get the same 404 as an unknown session, so a session
// id alone never confirms that a session exists.
func writeIndistinguishable(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": indistinguishableErrorCode})
}

// securityHeaders marks every response as private. Bodies carry PINs and
// join tokens, and socket URLs carry a token in the query string.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// peerHash is the only form of a client address that reaches the logs.
func peerHash(addr string) string {
	if addr == "" {
		return ""
	}
	sum := blake3.Sum256([]byte("remotedesk/peer/" + addr))
	return hex.EncodeToString(sum[:8])
}

// clientIP reads RemoteAddr, which middleware.RealIP has already rewritten
// from the forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requestToken prefers the Authorization header and falls back to the
// token query parameter, which is all a browser websocket can send.
func requestToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
