package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"remotedesk/internal/auth"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/router"
)

// handleParticipantSocket upgrades a viewer or controller holding a
// session.join token for this session.
func (s *Server) handleParticipantSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	claims, ok := s.requireAny(r, sessionID, auth.ScopeSessionJoin)
	if !ok || claims.PeerID == "" {
		writeIndistinguishable(w)
		return
	}
	s.serveSocket(w, r, router.Identity{
		Kind:      router.KindParticipant,
		UserID:    claims.PeerID,
		SessionID: sessionID,
		Role:      domain.Role(claims.Role),
	})
}

func (s *Server) handleHostSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireCapability(r, "", auth.Requirement{Scope: auth.ScopeHostConnect})
	if !ok || claims.HostID == "" {
		writeIndistinguishable(w)
		return
	}
	s.serveSocket(w, r, router.Identity{Kind: router.KindHost, HostID: claims.HostID})
}

func (s *Server) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireCapability(r, "", auth.Requirement{Scope: auth.ScopeAdmin})
	if !ok || claims.PeerID == "" {
		writeIndistinguishable(w)
		return
	}
	s.serveSocket(w, r, router.Identity{Kind: router.KindAdmin, UserID: claims.PeerID, Role: domain.RoleAdmin})
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, identity router.Identity) {
	if s.sockets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "realtime_unavailable"})
		return
	}
	if err := s.sockets.Serve(w, r, identity); err != nil {
		// The upgrader has already answered the request.
		logging.Allowlist(s.logger, map[string]string{
			"event":   "ws_upgrade_failed",
			"user_id": identity.UserID,
			"host_id": identity.HostID,
			"ip_hash": peerHash(clientIP(r)),
		})
	}
}
