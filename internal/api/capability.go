package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedesk/internal/auth"
)

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func (s *Server) requireCapability(r *http.Request, token string, req auth.Requirement) (auth.Claims, bool) {
	if token == "" {
		token = requestToken(r)
	}
	if req.Route == "" {
		req.Route = routePattern(r)
	}
	return s.capabilities.Validate(token, req)
}

// requireAny accepts the first scope the token satisfies. Session-bound
// scopes are checked against sessionID.
func (s *Server) requireAny(r *http.Request, sessionID string, scopes ...string) (auth.Claims, bool) {
	token := requestToken(r)
	for _, scope := range scopes {
		req := auth.Requirement{Scope: scope}
		if scope != auth.ScopeAdmin {
			req.SessionID = sessionID
		}
		if claims, ok := s.requireCapability(r, token, req); ok {
			if scope != auth.ScopeAdmin && claims.SessionID != sessionID {
				continue
			}
			return claims, true
		}
	}
	return auth.Claims{}, false
}
