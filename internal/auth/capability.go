package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"remotedesk/internal/clock"
)

const (
	capabilityVersion = 1
	minSecretBytes    = 32

	revokedSessionRetention = 24 * time.Hour

	// ScopeSessionCreate lets a user open sessions against a host.
	ScopeSessionCreate = "session.create"
	// ScopeSessionAdmit lets a user redeem a session PIN.
	ScopeSessionAdmit = "session.admit"
	// ScopeSessionJoin is issued on admission and bound to one session.
	ScopeSessionJoin = "session.join"
	// ScopeSessionManage covers PIN issuance and ending a session.
	ScopeSessionManage = "session.manage"
	ScopeHostConnect   = "host.connect"
	ScopeAdmin         = "admin"
)

type Claims struct {
	Scope         string   `json:"scope"`
	Exp           int64    `json:"exp"`
	Iat           int64    `json:"iat"`
	Jti           string   `json:"jti"`
	SessionID     string   `json:"session_id,omitempty"`
	HostID        string   `json:"host_id,omitempty"`
	PeerID        string   `json:"peer_id,omitempty"`
	Role          string   `json:"role,omitempty"`
	AllowedRoutes []string `json:"allowed_routes,omitempty"`
	SingleUse     bool     `json:"single_use,omitempty"`
	V             int      `json:"v"`
}

type IssueSpec struct {
	Scope         string
	TTL           time.Duration
	SessionID     string
	HostID        string
	PeerID        string
	Role          string
	AllowedRoutes []string
	SingleUse     bool
}

type Requirement struct {
	Scope     string
	SessionID string
	HostID    string
	PeerID    string
	Route     string
	SingleUse bool
}

type RevocationStore interface {
	RevokeSession(sessionID string)
	UseJTI(jti string, exp time.Time) bool
	IsRevoked(claims Claims) bool
}

type MemoryRevocationStore struct {
	mu              sync.Mutex
	clock           clock.Clock
	usedJTIs        map[string]time.Time
	revokedSessions map[string]time.Time
}

func NewMemoryRevocationStore(clk clock.Clock) *MemoryRevocationStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryRevocationStore{
		clock:           clk,
		usedJTIs:        map[string]time.Time{},
		revokedSessions: map[string]time.Time{},
	}
}

// RevokeSession invalidates every token bound to sessionID. Called when a
// session reaches a terminal state so stale join tokens cannot reconnect.
func (m *MemoryRevocationStore) RevokeSession(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	m.revokedSessions[sessionID] = m.clock.Now().UTC()
	m.mu.Unlock()
}

func (m *MemoryRevocationStore) UseJTI(jti string, exp time.Time) bool {
	if jti == "" {
		return false
	}
	now := m.clock.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(now)
	if _, exists := m.usedJTIs[jti]; exists {
		return false
	}
	m.usedJTIs[jti] = exp.UTC()
	return true
}

func (m *MemoryRevocationStore) IsRevoked(claims Claims) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().UTC()
	m.cleanupLocked(now)
	if claims.SessionID != "" {
		if _, ok := m.revokedSessions[claims.SessionID]; ok {
			return true
		}
	}
	return false
}

func (m *MemoryRevocationStore) cleanupLocked(now time.Time) {
	for jti, exp := range m.usedJTIs {
		if !exp.IsZero() && now.After(exp) {
			delete(m.usedJTIs, jti)
		}
	}
	for sessionID, at := range m.revokedSessions {
		if now.Sub(at) > revokedSessionRetention {
			delete(m.revokedSessions, sessionID)
		}
	}
}

type Service struct {
	secret      []byte
	clock       clock.Clock
	revocations RevocationStore
}

func NewService(secret []byte, clk clock.Clock, revocations RevocationStore) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if len(secret) < minSecretBytes {
		buf := make([]byte, minSecretBytes)
		_, _ = rand.Read(buf)
		secret = buf
	}
	if revocations == nil {
		revocations = NewMemoryRevocationStore(clk)
	}
	return &Service{
		secret:      append([]byte(nil), secret...),
		clock:       clk,
		revocations: revocations,
	}
}

func (s *Service) RevokeSession(sessionID string) {
	if s.revocations == nil {
		return
	}
	s.revocations.RevokeSession(sessionID)
}

func (s *Service) Issue(spec IssueSpec) (string, error) {
	now := s.clock.Now().UTC()
	jti, err := randomJTI(16)
	if err != nil {
		return "", err
	}
	claims := Claims{
		Scope:         spec.Scope,
		Exp:           now.Add(spec.TTL).Unix(),
		Iat:           now.Unix(),
		Jti:           jti,
		SessionID:     spec.SessionID,
		HostID:        spec.HostID,
		PeerID:        spec.PeerID,
		Role:          spec.Role,
		AllowedRoutes: spec.AllowedRoutes,
		SingleUse:     spec.SingleUse,
		V:             capabilityVersion,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signature := signHMAC(payload, s.secret)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (s *Service) Validate(token string, req Requirement) (Claims, bool) {
	payload, ok := parseToken(token, s.secret)
	if !ok {
		return Claims{}, false
	}
	if payload.V != capabilityVersion {
		return Claims{}, false
	}
	if payload.Exp > 0 && payload.Exp < s.clock.Now().UTC().Unix() {
		return Claims{}, false
	}
	if !s.ValidateClaims(payload, req) {
		return Claims{}, false
	}
	if s.revocations != nil {
		if s.revocations.IsRevoked(payload) {
			return Claims{}, false
		}
		if req.SingleUse {
			exp := time.Unix(payload.Exp, 0).UTC()
			if !s.revocations.UseJTI(payload.Jti, exp) {
				return Claims{}, false
			}
		}
	}
	return payload, true
}

func (s *Service) ValidateClaims(payload Claims, req Requirement) bool {
	if req.Scope != "" && payload.Scope != req.Scope {
		return false
	}
	if req.SessionID != "" && payload.SessionID != "" && payload.SessionID != req.SessionID {
		return false
	}
	if req.HostID != "" && payload.HostID != req.HostID {
		return false
	}
	if req.PeerID != "" && payload.PeerID != req.PeerID {
		return false
	}
	if req.SingleUse && !payload.SingleUse {
		return false
	}
	if req.Route != "" && len(payload.AllowedRoutes) > 0 {
		allowed := false
		for _, route := range payload.AllowedRoutes {
			if route == req.Route {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

func parseToken(token string, secret []byte) (Claims, bool) {
	if strings.Count(token, ".") != 1 {
		return Claims{}, false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Claims{}, false
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, false
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, false
	}
	expected := signHMAC(payloadBytes, secret)
	if !hmac.Equal(signature, expected) {
		return Claims{}, false
	}
	var payload Claims
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return Claims{}, false
	}
	return payload, true
}

func signHMAC(payload []byte, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func randomJTI(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
