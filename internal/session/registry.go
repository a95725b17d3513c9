package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
)

// Registry is the single map from session id to session state. Each entry
// carries its own mutex: callers mutate a session only inside With, so
// operations on one session are serialized while different sessions run in
// parallel. Lock order is entry before registry; the registry lock is never
// held while waiting on an entry.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	tombstones   map[string]tombstone
	clock        clock.Clock
	timeout      time.Duration
	admitTimeout time.Duration
	tombstoneTTL time.Duration
	onTerminal   func(domain.Session)
}

type entry struct {
	mu      sync.Mutex
	session *domain.Session
	removed bool
}

type tombstone struct {
	status domain.SessionStatus
	at     time.Time
}

type CreateSpec struct {
	DeviceID  string
	HostID    string
	CreatedBy string
	Type      domain.SessionType
	Quality   domain.QualitySettings
	Clipboard domain.ClipboardConfig
}

func NewRegistry(clk clock.Clock, timeout, tombstoneTTL time.Duration) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if timeout <= 0 {
		timeout = domain.DefaultAbsoluteTimeout
	}
	return &Registry{
		entries:      map[string]*entry{},
		tombstones:   map[string]tombstone{},
		clock:        clk,
		timeout:      timeout,
		admitTimeout: domain.DefaultAdmissionTimeout,
		tombstoneTTL: tombstoneTTL,
	}
}

// SetAdmissionTimeout changes how long new sessions may stay unadmitted
// before the registry ends them. Set once during wiring.
func (r *Registry) SetAdmissionTimeout(d time.Duration) {
	if d > 0 {
		r.admitTimeout = d
	}
}

// OnTerminal registers the callback run, outside any lock, for every session
// that leaves the registry. Set once during wiring.
func (r *Registry) OnTerminal(fn func(domain.Session)) {
	r.onTerminal = fn
}

func (r *Registry) Create(spec CreateSpec) (domain.Session, error) {
	if spec.HostID == "" || spec.CreatedBy == "" {
		return domain.Session{}, domain.Validation("invalid_session_request")
	}
	if spec.Type == "" {
		spec.Type = domain.SessionTypeRemoteControl
	}
	if !spec.Type.Valid() {
		return domain.Session{}, domain.Validation("invalid_session_type")
	}
	if spec.Quality == (domain.QualitySettings{}) {
		spec.Quality = domain.DefaultQuality()
	}
	now := r.clock.Now()
	s := &domain.Session{
		ID:           uuid.NewString(),
		DeviceID:     spec.DeviceID,
		HostID:       spec.HostID,
		CreatedBy:    spec.CreatedBy,
		Type:         spec.Type,
		Status:       domain.SessionCreated,
		CreatedAt:    now,
		Timeout:      r.timeout,
		AdmitTimeout: r.admitTimeout,
		Participants: map[string]*domain.Participant{
			spec.CreatedBy: {
				UserID:   spec.CreatedBy,
				Role:     domain.RoleOwner,
				JoinedAt: now,
			},
		},
		Monitors:  domain.MonitorState{Desktop: domain.VirtualDesktop{PrimaryIndex: domain.NoPrimary}},
		Quality:   spec.Quality,
		Clipboard: domain.ClipboardSyncState{Config: spec.Clipboard},
		Transfers: map[string]*domain.FileTransfer{},
	}
	s.Participants[spec.CreatedBy].SessionID = s.ID

	r.mu.Lock()
	r.entries[s.ID] = &entry{session: s}
	r.mu.Unlock()
	return s.Clone(), nil
}

// With runs fn under the session's exclusion. A session past its absolute
// timeout is force-ended before fn would run. When fn leaves the session in
// a terminal status the session is removed and a tombstone recorded.
func (r *Registry) With(id string, fn func(*domain.Session) error) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		if _, ended := r.Tombstone(id); ended {
			return domain.ErrSessionEnded
		}
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return domain.ErrSessionEnded
	}
	now := r.clock.Now()
	if e.session.IsTimedOut(now) {
		ended := r.expireLocked(e, now)
		e.mu.Unlock()
		r.terminal(ended)
		return domain.ErrSessionEnded
	}

	err := fn(e.session)
	var final *domain.Session
	if e.session.Status.Terminal() {
		r.removeLocked(e, now)
		snapshot := e.session.Clone()
		final = &snapshot
	}
	e.mu.Unlock()

	if final != nil {
		r.terminal(*final)
	}
	return err
}

func (r *Registry) Get(id string) (domain.Session, error) {
	var out domain.Session
	err := r.With(id, func(s *domain.Session) error {
		out = s.Clone()
		return nil
	})
	return out, err
}

// Tombstone reports the final status of a recently removed session.
func (r *Registry) Tombstone(id string) (domain.SessionStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tombstones[id]
	return t.status, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// ForHost lists sessions bound to hostID. The host id is immutable after
// creation so it is safe to read without the entry lock.
func (r *Registry) ForHost(hostID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.session.HostID == hostID {
			ids = append(ids, id)
		}
	}
	return ids
}

// StatusCounts tallies live sessions by status. Entries are read one at a
// time, so the result is not a point-in-time snapshot.
func (r *Registry) StatusCounts() map[domain.SessionStatus]int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	counts := map[domain.SessionStatus]int{}
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			counts[e.session.Status]++
		}
		e.mu.Unlock()
	}
	return counts
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SweepTimeouts force-ends every session past its absolute timeout.
func (r *Registry) SweepTimeouts() int {
	count := 0
	for _, id := range r.IDs() {
		r.mu.RLock()
		e, ok := r.entries[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		now := r.clock.Now()
		if e.removed || !e.session.IsTimedOut(now) {
			e.mu.Unlock()
			continue
		}
		ended := r.expireLocked(e, now)
		e.mu.Unlock()
		r.terminal(ended)
		count++
	}
	return count
}

// SweepTombstones forgets tombstones older than the retention window.
func (r *Registry) SweepTombstones() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.tombstones {
		if now.Sub(t.at) >= r.tombstoneTTL {
			delete(r.tombstones, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) expireLocked(e *entry, now time.Time) domain.Session {
	e.session.Status = domain.SessionEnded
	e.session.StatusReason = ReasonTimeout
	e.session.EndedAt = now
	r.removeLocked(e, now)
	return e.session.Clone()
}

func (r *Registry) removeLocked(e *entry, now time.Time) {
	e.removed = true
	if e.session.EndedAt.IsZero() {
		e.session.EndedAt = now
	}
	r.mu.Lock()
	delete(r.entries, e.session.ID)
	if r.tombstoneTTL > 0 {
		r.tombstones[e.session.ID] = tombstone{status: e.session.Status, at: now}
	}
	r.mu.Unlock()
}

func (r *Registry) terminal(s domain.Session) {
	if r.onTerminal != nil {
		r.onTerminal(s)
	}
}
