package domain

import "time"

const (
	DefaultAbsoluteTimeout = 8 * time.Hour
	// DefaultAdmissionTimeout bounds how long a session may wait for its
	// first participant to be admitted.
	DefaultAdmissionTimeout = 30 * time.Minute
)

type SessionStatus string

const (
	SessionCreated      SessionStatus = "created"
	SessionPendingPIN   SessionStatus = "pending_pin"
	SessionActive       SessionStatus = "active"
	SessionDisconnected SessionStatus = "disconnected"
	SessionEnded        SessionStatus = "ended"
	SessionFailed       SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionFailed
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionCreated:      {SessionPendingPIN, SessionEnded, SessionFailed},
	SessionPendingPIN:   {SessionPendingPIN, SessionActive, SessionEnded, SessionFailed},
	SessionActive:       {SessionDisconnected, SessionEnded, SessionFailed},
	SessionDisconnected: {SessionActive, SessionEnded, SessionFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SessionType string

const (
	SessionTypeRemoteControl    SessionType = "remote_control"
	SessionTypeViewOnly         SessionType = "view_only"
	SessionTypeFileTransfer     SessionType = "file_transfer"
	SessionTypeCommandExecution SessionType = "command_execution"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeRemoteControl, SessionTypeViewOnly, SessionTypeFileTransfer, SessionTypeCommandExecution:
		return true
	}
	return false
}

type Role string

const (
	RoleViewer     Role = "viewer"
	RoleController Role = "controller"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleController, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleOwner
}

type PIN struct {
	Hash      []byte
	ExpiresAt time.Time
}

type Participant struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	ConnectionID string    `json:"connection_id,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	IsConnected  bool      `json:"is_connected"`
	HasControl   bool      `json:"has_control"`
}

type Session struct {
	ID           string        `json:"id"`
	DeviceID     string        `json:"device_id"`
	HostID       string        `json:"host_id"`
	CreatedBy    string        `json:"created_by"`
	Type         SessionType   `json:"type"`
	Status       SessionStatus `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	EndedAt      time.Time     `json:"ended_at,omitempty"`
	Timeout      time.Duration `json:"-"`
	AdmitTimeout time.Duration `json:"-"`
	PIN          *PIN          `json:"-"`

	Participants map[string]*Participant  `json:"participants"`
	Monitors     MonitorState             `json:"monitors"`
	Quality      QualitySettings          `json:"quality"`
	Clipboard    ClipboardSyncState       `json:"clipboard"`
	Transfers    map[string]*FileTransfer `json:"transfers,omitempty"`
}

// IsTimedOut reports whether the absolute session timeout has elapsed since
// the session went active, or, for a session never activated, whether the
// admission window since creation has passed.
func (s *Session) IsTimedOut(now time.Time) bool {
	if s.Status.Terminal() {
		return false
	}
	if s.StartedAt.IsZero() {
		if s.Status != SessionCreated && s.Status != SessionPendingPIN {
			return false
		}
		window := s.AdmitTimeout
		if window <= 0 {
			window = DefaultAdmissionTimeout
		}
		return now.Sub(s.CreatedAt) > window
	}
	limit := s.Timeout
	if limit <= 0 {
		limit = DefaultAbsoluteTimeout
	}
	return now.Sub(s.StartedAt) > limit
}

func (s *Session) Participant(userID string) (*Participant, bool) {
	p, ok := s.Participants[userID]
	return p, ok
}

// Controller returns the participant currently holding control, if any.
func (s *Session) Controller() (*Participant, bool) {
	for _, p := range s.Participants {
		if p.HasControl {
			return p, true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand out after the session lock is released.
func (s *Session) Clone() Session {
	out := *s
	if s.PIN != nil {
		pin := *s.PIN
		out.PIN = &pin
	}
	out.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		copied := *p
		out.Participants[id] = &copied
	}
	out.Monitors = s.Monitors.clone()
	out.Clipboard = s.Clipboard.clone()
	out.Transfers = make(map[string]*FileTransfer, len(s.Transfers))
	for id, t := range s.Transfers {
		copied := t.Clone()
		out.Transfers[id] = &copied
	}
	return out
}
