// Package participant manages who is in a session and who holds control.
// All mutations run inside the session's registry exclusion, which is what
// keeps at most one control holder per session.
package participant

import (
	"io"
	"log"
	"sort"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/session"
)

type Coordinator struct {
	registry *session.Registry
	clock    clock.Clock
	logger   *log.Logger
}

func New(registry *session.Registry, clk clock.Clock, logger *log.Logger) *Coordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{registry: registry, clock: clk, logger: logger}
}

type JoinResult struct {
	Participant domain.Participant
	Rejoined    bool
}

// Join upserts the participant's connection. A returning participant keeps
// its role; a new one gets role, which may not be owner.
func (c *Coordinator) Join(sessionID, userID, connectionID string, role domain.Role) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, domain.ErrNotParticipant
	}
	if !role.Valid() || role == domain.RoleOwner {
		role = domain.RoleViewer
	}
	var result JoinResult
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[userID]
		if ok {
			result.Rejoined = true
		} else {
			p = &domain.Participant{
				SessionID: s.ID,
				UserID:    userID,
				Role:      role,
				JoinedAt:  c.clock.Now(),
			}
			s.Participants[userID] = p
		}
		p.ConnectionID = connectionID
		p.IsConnected = true
		result.Participant = *p
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	logging.Allowlist(c.logger, map[string]string{
		"event":         "participant_joined",
		"session_id":    sessionID,
		"user_id":       userID,
		"connection_id": connectionID,
	})
	return result, nil
}

type LeaveResult struct {
	Participant     domain.Participant
	ReleasedControl bool
}

// Leave marks the participant disconnected and releases control it held.
// The record stays so a later Join restores the same role.
func (c *Coordinator) Leave(sessionID, userID string) (LeaveResult, error) {
	var result LeaveResult
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[userID]
		if !ok {
			return domain.ErrNotParticipant
		}
		result.ReleasedControl = p.HasControl
		p.HasControl = false
		p.IsConnected = false
		p.ConnectionID = ""
		result.Participant = *p
		return nil
	})
	return result, err
}

// Disconnect is Leave keyed by connection, for transport drops. ok is false
// when no participant holds that connection, which is not an error since a
// reconnect may already have replaced it.
func (c *Coordinator) Disconnect(sessionID, connectionID string) (LeaveResult, bool, error) {
	var result LeaveResult
	var found bool
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		for _, p := range s.Participants {
			if connectionID == "" || p.ConnectionID != connectionID {
				continue
			}
			found = true
			result.ReleasedControl = p.HasControl
			p.HasControl = false
			p.IsConnected = false
			p.ConnectionID = ""
			result.Participant = *p
			return nil
		}
		return nil
	})
	return result, found, err
}

// RequestControl returns the privileged participants that should see the
// request. The requester itself is excluded.
func (c *Coordinator) RequestControl(sessionID, userID string) ([]domain.Participant, error) {
	var recipients []domain.Participant
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		if _, ok := s.Participants[userID]; !ok {
			return domain.ErrNotParticipant
		}
		for id, p := range s.Participants {
			if id != userID && p.Role.Privileged() {
				recipients = append(recipients, *p)
			}
		}
		return nil
	})
	sortParticipants(recipients)
	return recipients, err
}

type GrantResult struct {
	Target   domain.Participant
	Previous string
	Changed  bool
}

// GrantControl hands control to targetID and clears it everywhere else in
// the same step. The caller must be privileged or the current holder.
func (c *Coordinator) GrantControl(sessionID, callerID, targetID string) (GrantResult, error) {
	var result GrantResult
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		caller, ok := s.Participants[callerID]
		if !ok {
			return domain.ErrNotParticipant
		}
		target, ok := s.Participants[targetID]
		if !ok {
			return domain.ErrNotParticipant
		}
		if !caller.Role.Privileged() && !caller.HasControl {
			return domain.ErrMissingPermission
		}
		if s.Type == domain.SessionTypeViewOnly {
			return domain.Validation("view_only_session")
		}
		if target.HasControl {
			result.Target = *target
			result.Previous = targetID
			return nil
		}
		for id, p := range s.Participants {
			if p.HasControl {
				result.Previous = id
			}
			p.HasControl = false
		}
		target.HasControl = true
		result.Target = *target
		result.Changed = true
		return nil
	})
	if err == nil && result.Changed {
		logging.Allowlist(c.logger, map[string]string{
			"event":      "control_granted",
			"session_id": sessionID,
			"user_id":    targetID,
		})
	}
	return result, err
}

// RevokeControl clears targetID's control without picking a new holder.
// Revoking from a participant that does not hold control is a no-op.
func (c *Coordinator) RevokeControl(sessionID, callerID, targetID string) (bool, error) {
	changed := false
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		caller, ok := s.Participants[callerID]
		if !ok {
			return domain.ErrNotParticipant
		}
		target, ok := s.Participants[targetID]
		if !ok {
			return domain.ErrNotParticipant
		}
		if !caller.Role.Privileged() && callerID != targetID {
			return domain.ErrMissingPermission
		}
		changed = target.HasControl
		target.HasControl = false
		return nil
	})
	return changed, err
}

// HasControl reports whether userID currently holds control.
func (c *Coordinator) HasControl(sessionID, userID string) (bool, error) {
	holds := false
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[userID]
		if !ok {
			return domain.ErrNotParticipant
		}
		holds = p.HasControl
		return nil
	})
	return holds, err
}

func (c *Coordinator) Get(sessionID, userID string) (domain.Participant, error) {
	var out domain.Participant
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[userID]
		if !ok {
			return domain.ErrNotParticipant
		}
		out = *p
		return nil
	})
	return out, err
}

func (c *Coordinator) List(sessionID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		for _, p := range s.Participants {
			out = append(out, *p)
		}
		return nil
	})
	sortParticipants(out)
	return out, err
}

func sortParticipants(list []domain.Participant) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
}
