package session

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"remotedesk/internal/audit"
	"remotedesk/internal/auth"
	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/ratelimit"
)

const (
	ReasonTimeout      = "absolute_timeout"
	ReasonHostEnded    = "host_ended"
	ReasonUserEnded    = "ended_by_user"
	ReasonHostGone     = "host_disconnected"
	ReasonInternalFail = "internal_error"
)

// Authorizer validates capability tokens. auth.Service satisfies it.
type Authorizer interface {
	Validate(token string, req auth.Requirement) (auth.Claims, bool)
}

// Revoker is optionally implemented by the Authorizer to invalidate join
// tokens once a session is over.
type Revoker interface {
	RevokeSession(sessionID string)
}

type StatusChange struct {
	SessionID string               `json:"session_id"`
	HostID    string               `json:"host_id"`
	From      domain.SessionStatus `json:"from,omitempty"`
	To        domain.SessionStatus `json:"to"`
	Reason    string               `json:"reason,omitempty"`
	At        time.Time            `json:"at"`
}

// Publisher fans status changes out to the session's participants.
type Publisher interface {
	PublishStatus(ctx context.Context, change StatusChange)
}

type Options struct {
	Clock       clock.Clock
	Authorizer  Authorizer
	Audit       audit.Sink
	Metrics     *metrics.Counters
	Logger      *log.Logger
	PINLength   int
	PINTTL      time.Duration
	PINCost     int
	PINAttempts *ratelimit.Limiter
	// PINSource overrides PIN generation; tests use it to pin a known value.
	PINSource func(length int) (string, error)
}

type Lifecycle struct {
	registry    *Registry
	clock       clock.Clock
	authorizer  Authorizer
	audit       audit.Sink
	metrics     *metrics.Counters
	logger      *log.Logger
	pinLength   int
	pinTTL      time.Duration
	pinCost     int
	pinAttempts *ratelimit.Limiter
	pinSource   func(int) (string, error)
	publisher   Publisher
	terminal    []func(domain.Session)
}

func NewLifecycle(registry *Registry, opts Options) *Lifecycle {
	l := &Lifecycle{
		registry:    registry,
		clock:       opts.Clock,
		authorizer:  opts.Authorizer,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		pinLength:   opts.PINLength,
		pinTTL:      opts.PINTTL,
		pinCost:     opts.PINCost,
		pinAttempts: opts.PINAttempts,
		pinSource:   opts.PINSource,
	}
	if l.clock == nil {
		l.clock = clock.RealClock{}
	}
	if l.audit == nil {
		l.audit = audit.Discard{}
	}
	if l.metrics == nil {
		l.metrics = metrics.NewCounters()
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard, "", 0)
	}
	if l.pinLength <= 0 {
		l.pinLength = 6
	}
	if l.pinTTL <= 0 {
		l.pinTTL = 10 * time.Minute
	}
	if l.pinCost == 0 {
		l.pinCost = bcrypt.DefaultCost
	}
	if l.pinSource == nil {
		l.pinSource = GeneratePIN
	}
	registry.OnTerminal(l.handleTerminal)
	return l
}

func (l *Lifecycle) Registry() *Registry {
	return l.registry
}

// SetPublisher wires the router once it exists; the router itself depends
// on the lifecycle.
func (l *Lifecycle) SetPublisher(p Publisher) {
	l.publisher = p
}

// OnTerminal registers cleanup run after a session leaves the registry.
func (l *Lifecycle) OnTerminal(fn func(domain.Session)) {
	l.terminal = append(l.terminal, fn)
}

func (l *Lifecycle) Create(ctx context.Context, spec CreateSpec) (domain.Session, error) {
	s, err := l.registry.Create(spec)
	if err != nil {
		return domain.Session{}, err
	}
	l.metrics.IncSessionsCreated()
	logging.Allowlist(l.logger, map[string]string{
		"event":      "session_created",
		"session_id": s.ID,
		"host_id":    s.HostID,
		"user_id":    s.CreatedBy,
		"type":       string(s.Type),
	})
	return s, nil
}

func (l *Lifecycle) Get(id string) (domain.Session, error) {
	return l.registry.Get(id)
}

type IssuedPIN struct {
	PIN       string    `json:"pin"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuePIN generates a fresh PIN, replacing any previous one, and moves the
// session to pending_pin. Only the owner or an admin may issue.
func (l *Lifecycle) IssuePIN(ctx context.Context, id, callerID string) (IssuedPIN, error) {
	pin, err := l.pinSource(l.pinLength)
	if err != nil {
		return IssuedPIN{}, domain.Fatal("pin_generation_failed", err)
	}
	hash, err := hashPIN(pin, l.pinCost)
	if err != nil {
		return IssuedPIN{}, domain.Fatal("pin_generation_failed", err)
	}

	var change *StatusChange
	var issued IssuedPIN
	err = l.registry.With(id, func(s *domain.Session) error {
		caller, ok := s.Participant(callerID)
		if !ok {
			return domain.ErrNotParticipant
		}
		if !caller.Role.Privileged() {
			return domain.ErrMissingPermission
		}
		if s.Status != domain.SessionCreated && s.Status != domain.SessionPendingPIN {
			return domain.ErrIllegalTransition
		}
		expiresAt := l.clock.Now().Add(l.pinTTL)
		s.PIN = &domain.PIN{Hash: hash, ExpiresAt: expiresAt}
		change = l.transitionLocked(s, domain.SessionPendingPIN, "")
		issued = IssuedPIN{PIN: pin, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return IssuedPIN{}, err
	}
	l.pinAttempts.Reset("pin:" + id)
	l.publish(ctx, change)
	return issued, nil
}

type AdmitRequest struct {
	UserID     string
	PIN        string
	Capability string
}

type Admission struct {
	Session domain.Session
	Role    domain.Role
}

// Admit checks the caller's capability first and the PIN second, so a
// caller without permission learns nothing about the PIN. A successful
// admission consumes the PIN and activates the session exactly once.
func (l *Lifecycle) Admit(ctx context.Context, id string, req AdmitRequest) (Admission, error) {
	if req.UserID == "" {
		return Admission{}, domain.ErrMissingPermission
	}
	role := domain.RoleViewer
	if l.authorizer != nil {
		claims, ok := l.authorizer.Validate(req.Capability, auth.Requirement{
			Scope:     auth.ScopeSessionAdmit,
			SessionID: id,
			PeerID:    req.UserID,
		})
		if !ok {
			l.logAdmitFailure(id, req.UserID, "missing_permission")
			return Admission{}, domain.ErrMissingPermission
		}
		if claimed := domain.Role(claims.Role); claimed.Valid() && claimed != domain.RoleOwner {
			role = claimed
		}
	}
	if !l.pinAttempts.Allow("pin:" + id) {
		l.logAdmitFailure(id, req.UserID, "too_many_attempts")
		return Admission{}, domain.Validation("too_many_attempts")
	}

	var change *StatusChange
	var admission Admission
	err := l.registry.With(id, func(s *domain.Session) error {
		if s.Status != domain.SessionPendingPIN {
			if s.Status == domain.SessionCreated {
				return domain.ErrInvalidPIN
			}
			return domain.ErrIllegalTransition
		}
		if !l.pinValidLocked(s, req.PIN) {
			return domain.ErrInvalidPIN
		}
		now := l.clock.Now()
		s.PIN = nil
		s.StartedAt = now
		change = l.transitionLocked(s, domain.SessionActive, "")
		if existing, ok := s.Participants[req.UserID]; ok {
			role = existing.Role
		} else {
			s.Participants[req.UserID] = &domain.Participant{
				SessionID: s.ID,
				UserID:    req.UserID,
				Role:      role,
				JoinedAt:  now,
			}
		}
		admission = Admission{Session: s.Clone(), Role: role}
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.KindValidation) {
			l.logAdmitFailure(id, req.UserID, domain.CodeOf(err))
		}
		return Admission{}, err
	}
	l.pinAttempts.Reset("pin:" + id)
	l.metrics.IncSessionsActivated()
	l.publish(ctx, change)
	return admission, nil
}

// HostStarted records the host's SessionStarted notification. Repeats for an
// active session are no-ops; a disconnected session is reactivated.
func (l *Lifecycle) HostStarted(ctx context.Context, id string) error {
	var change *StatusChange
	err := l.registry.With(id, func(s *domain.Session) error {
		switch s.Status {
		case domain.SessionActive:
			return nil
		case domain.SessionDisconnected:
			change = l.transitionLocked(s, domain.SessionActive, "")
			return nil
		default:
			return domain.ErrSessionNotActive
		}
	})
	if err != nil {
		return err
	}
	l.publish(ctx, change)
	return nil
}

// HostEnded is idempotent: a session that already ended stays ended.
func (l *Lifecycle) HostEnded(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = ReasonHostEnded
	}
	return l.finish(ctx, id, domain.SessionEnded, reason)
}

// HostError moves the session to failed with the host-reported reason.
func (l *Lifecycle) HostError(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "host_error"
	}
	return l.finish(ctx, id, domain.SessionFailed, reason)
}

// Fail drives a session to failed after an unexpected internal error.
func (l *Lifecycle) Fail(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = ReasonInternalFail
	}
	logging.Allowlist(l.logger, map[string]string{
		"event":      "session_failed",
		"session_id": id,
		"reason":     reason,
	})
	return l.finish(ctx, id, domain.SessionFailed, reason)
}

// End is the explicit stop requested by the owner or an admin.
func (l *Lifecycle) End(ctx context.Context, id, callerID, reason string) error {
	if reason == "" {
		reason = ReasonUserEnded
	}
	var change *StatusChange
	err := l.registry.With(id, func(s *domain.Session) error {
		caller, ok := s.Participant(callerID)
		if !ok {
			return domain.ErrNotParticipant
		}
		if !caller.Role.Privileged() {
			return domain.ErrMissingPermission
		}
		change = l.transitionLocked(s, domain.SessionEnded, reason)
		return nil
	})
	if err != nil {
		return err
	}
	l.publish(ctx, change)
	return nil
}

// HostDisconnected marks every active session of hostID disconnected.
func (l *Lifecycle) HostDisconnected(ctx context.Context, hostID string) int {
	count := 0
	for _, id := range l.registry.ForHost(hostID) {
		var change *StatusChange
		_ = l.registry.With(id, func(s *domain.Session) error {
			if s.Status == domain.SessionActive {
				change = l.transitionLocked(s, domain.SessionDisconnected, ReasonHostGone)
			}
			return nil
		})
		if change != nil {
			count++
			l.publish(ctx, change)
		}
	}
	return count
}

// SweepTimeouts force-ends sessions past the absolute timeout.
func (l *Lifecycle) SweepTimeouts() int {
	return l.registry.SweepTimeouts()
}

func (l *Lifecycle) finish(ctx context.Context, id string, to domain.SessionStatus, reason string) error {
	var change *StatusChange
	err := l.registry.With(id, func(s *domain.Session) error {
		change = l.transitionLocked(s, to, reason)
		return nil
	})
	if errors.Is(err, domain.ErrSessionEnded) {
		return nil
	}
	if err != nil {
		return err
	}
	l.publish(ctx, change)
	return nil
}

// transitionLocked applies from -> to when the graph allows it. It returns
// nil for a repeat of the current status or a disallowed edge; terminal
// sessions never move again.
func (l *Lifecycle) transitionLocked(s *domain.Session, to domain.SessionStatus, reason string) *StatusChange {
	from := s.Status
	if from == to && to != domain.SessionPendingPIN {
		return nil
	}
	if !domain.CanTransition(from, to) {
		return nil
	}
	now := l.clock.Now()
	s.Status = to
	s.StatusReason = reason
	if to.Terminal() {
		s.EndedAt = now
		s.PIN = nil
	}
	if from == to {
		return nil
	}
	return &StatusChange{SessionID: s.ID, HostID: s.HostID, From: from, To: to, Reason: reason, At: now}
}

func (l *Lifecycle) pinValidLocked(s *domain.Session, pin string) bool {
	if s.PIN == nil || !wellFormedPIN(pin, l.pinLength) {
		return false
	}
	if !l.clock.Now().Before(s.PIN.ExpiresAt) {
		return false
	}
	return pinMatches(s.PIN.Hash, pin)
}

// ExpirePINs clears PINs whose validity window has passed.
func (l *Lifecycle) ExpirePINs() int {
	count := 0
	for _, id := range l.registry.IDs() {
		_ = l.registry.With(id, func(s *domain.Session) error {
			if s.PIN != nil && !l.clock.Now().Before(s.PIN.ExpiresAt) {
				s.PIN = nil
				count++
			}
			return nil
		})
	}
	return count
}

func (l *Lifecycle) publish(ctx context.Context, change *StatusChange) {
	if change == nil {
		return
	}
	logging.Allowlist(l.logger, map[string]string{
		"event":      "session_status",
		"session_id": change.SessionID,
		"status":     string(change.To),
		"reason":     change.Reason,
	})
	if l.publisher != nil {
		l.publisher.PublishStatus(ctx, *change)
	}
}

func (l *Lifecycle) handleTerminal(s domain.Session) {
	switch s.Status {
	case domain.SessionFailed:
		l.metrics.IncSessionsFailed()
	default:
		l.metrics.IncSessionsEnded()
	}
	if s.StatusReason == ReasonTimeout {
		l.metrics.AddSessionsTimedOut(1)
		// Sweeps and lazy checks bypass transitionLocked, so publish here.
		l.publish(context.Background(), &StatusChange{
			SessionID: s.ID,
			HostID:    s.HostID,
			To:        s.Status,
			Reason:    s.StatusReason,
			At:        s.EndedAt,
		})
	}
	if revoker, ok := l.authorizer.(Revoker); ok {
		revoker.RevokeSession(s.ID)
	}
	l.pinAttempts.Reset("pin:" + s.ID)
	for _, fn := range l.terminal {
		fn(s)
	}
	l.audit.Record(context.Background(), audit.FromSession(s))
}

func (l *Lifecycle) logAdmitFailure(id, userID, code string) {
	logging.Allowlist(l.logger, map[string]string{
		"event":      "admission_rejected",
		"session_id": id,
		"user_id":    userID,
		"error":      code,
	})
}
