package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"remotedesk/internal/auth"
	"remotedesk/internal/domain"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/quality"
	"remotedesk/internal/session"
)

type sessionCreateRequest struct {
	DeviceID  string                  `json:"device_id"`
	HostID    string                  `json:"host_id"`
	Type      domain.SessionType      `json:"type,omitempty"`
	Quality   *domain.QualitySettings `json:"quality,omitempty"`
	Clipboard *domain.ClipboardConfig `json:"clipboard,omitempty"`
}

type sessionView struct {
	ID           string                 `json:"id"`
	DeviceID     string                 `json:"device_id"`
	HostID       string                 `json:"host_id"`
	CreatedBy    string                 `json:"created_by"`
	Type         domain.SessionType     `json:"type"`
	Status       domain.SessionStatus   `json:"status"`
	StatusReason string                 `json:"status_reason,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	StartedAt    string                 `json:"started_at,omitempty"`
	Participants []participantView      `json:"participants"`
	Quality      domain.QualitySettings `json:"quality"`
}

type participantView struct {
	UserID     string      `json:"user_id"`
	Role       domain.Role `json:"role"`
	HasControl bool        `json:"has_control"`
	Connected  bool        `json:"connected"`
}

type pinResponse struct {
	PIN       string `json:"pin"`
	ExpiresAt string `json:"expires_at"`
}

type admitRequest struct {
	UserID string `json:"user_id"`
	PIN    string `json:"pin"`
}

type admitResponse struct {
	Session   sessionView `json:"session"`
	Role      domain.Role `json:"role"`
	JoinToken string      `json:"join_token"`
	ExpiresAt string      `json:"expires_at"`
}

type endRequest struct {
	Reason string `json:"reason,omitempty"`
}

func viewOf(s domain.Session) sessionView {
	view := sessionView{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		HostID:       s.HostID,
		CreatedBy:    s.CreatedBy,
		Type:         s.Type,
		Status:       s.Status,
		StatusReason: s.StatusReason,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		Quality:      s.Quality,
		Participants: make([]participantView, 0, len(s.Participants)),
	}
	if !s.StartedAt.IsZero() {
		view.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	for _, p := range s.Participants {
		view.Participants = append(view.Participants, participantView{
			UserID:     p.UserID,
			Role:       p.Role,
			HasControl: p.HasControl,
			Connected:  p.ConnectionID != "",
		})
	}
	sort.Slice(view.Participants, func(i, j int) bool {
		return view.Participants[i].UserID < view.Participants[j].UserID
	})
	return view
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeJSON(w, r, &req, 16<<10); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if req.HostID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	claims, ok := s.requireCapability(r, "", auth.Requirement{Scope: auth.ScopeSessionCreate})
	if !ok || claims.PeerID == "" {
		writeIndistinguishable(w)
		return
	}
	// A token bound to a host may only open sessions against that host.
	if claims.HostID != "" && claims.HostID != req.HostID {
		writeIndistinguishable(w)
		return
	}
	if !s.allowSessionCreate(claims.PeerID) {
		logging.Allowlist(s.logger, map[string]string{
			"event":   "quota_blocked",
			"scope":   "session_create",
			"user_id": claims.PeerID,
			"ip_hash": peerHash(clientIP(r)),
		})
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "quota_exceeded"})
		return
	}

	spec := session.CreateSpec{
		DeviceID:  req.DeviceID,
		HostID:    req.HostID,
		CreatedBy: claims.PeerID,
		Type:      req.Type,
	}
	if req.Quality != nil {
		normalized, err := quality.Normalize(*req.Quality)
		if err != nil {
			writeError(w, err)
			return
		}
		spec.Quality = normalized
	}
	if req.Clipboard != nil {
		spec.Clipboard = *req.Clipboard
	}
	created, err := s.lifecycle.Create(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(created))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.requireAny(r, sessionID, auth.ScopeSessionJoin, auth.ScopeSessionManage, auth.ScopeAdmin); !ok {
		writeIndistinguishable(w)
		return
	}
	current, err := s.lifecycle.Get(sessionID)
	if err != nil {
		if status, gone := s.lifecycle.Registry().Tombstone(sessionID); gone {
			writeJSON(w, http.StatusGone, map[string]string{"error": "session_over", "status": string(status)})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(current))
}

func (s *Server) handleIssuePIN(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	claims, ok := s.requireAny(r, sessionID, auth.ScopeSessionManage)
	if !ok {
		writeIndistinguishable(w)
		return
	}
	issued, err := s.lifecycle.IssuePIN(r.Context(), sessionID, claims.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pinResponse{
		PIN:       issued.PIN,
		ExpiresAt: issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleAdmit redeems a PIN. The session.admit token is checked by the
// lifecycle before the PIN; success returns a session.join token for the
// websocket.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req admitRequest
	if err := decodeJSON(w, r, &req, 4<<10); err != nil || req.UserID == "" || req.PIN == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	admission, err := s.lifecycle.Admit(r.Context(), sessionID, session.AdmitRequest{
		UserID:     req.UserID,
		PIN:        req.PIN,
		Capability: requestToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	ttl := s.cfg.Session.JoinTokenTTL
	joinToken, err := s.capabilities.Issue(auth.IssueSpec{
		Scope:     auth.ScopeSessionJoin,
		TTL:       ttl,
		SessionID: sessionID,
		HostID:    admission.Session.HostID,
		PeerID:    req.UserID,
		Role:      string(admission.Role),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token_issue_failed"})
		return
	}
	writeJSON(w, http.StatusOK, admitResponse{
		Session:   viewOf(admission.Session),
		Role:      admission.Role,
		JoinToken: joinToken,
		ExpiresAt: s.clock.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	claims, ok := s.requireAny(r, sessionID, auth.ScopeSessionManage, auth.ScopeSessionJoin)
	if !ok {
		writeIndistinguishable(w)
		return
	}
	var req endRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req, 4<<10); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
	}
	if err := s.lifecycle.End(r.Context(), sessionID, claims.PeerID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.requireAny(r, sessionID, auth.ScopeSessionJoin, auth.ScopeAdmin); !ok {
		writeIndistinguishable(w)
		return
	}
	desktop, err := s.monitors.VirtualDesktop(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	selected, found, err := s.monitors.Selected(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]any{"desktop": desktop}
	if found {
		bounds, err := s.monitors.CaptureBounds(sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		payload["selected"] = selected
		payload["capture_bounds"] = bounds
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.requireAny(r, sessionID, auth.ScopeSessionJoin, auth.ScopeAdmin); !ok {
		writeIndistinguishable(w)
		return
	}
	settings, err := s.quality.Get(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.requireAny(r, sessionID, auth.ScopeSessionJoin, auth.ScopeAdmin); !ok {
		writeIndistinguishable(w)
		return
	}
	transfers, err := s.transfers.List(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.clock.Now()
	out := make([]domain.TransferProgress, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, filetransfer.ProgressOf(t, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfers": out,
		"count":     len(out),
	})
}

func (s *Server) handleHostHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireCapability(r, "", auth.Requirement{Scope: auth.ScopeAdmin}); !ok {
		writeIndistinguishable(w)
		return
	}
	hostID := chi.URLParam(r, "hostID")
	health, ok := s.health.Latest(hostID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "host_not_found"})
		return
	}
	payload := map[string]any{"health": health}
	if info, registered := s.hub.Host(hostID); registered {
		payload["host"] = info
	}
	writeJSON(w, http.StatusOK, payload)
}
