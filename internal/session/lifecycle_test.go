package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"remotedesk/internal/audit"
	"remotedesk/internal/auth"
	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/ratelimit"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (r *recordingPublisher) PublishStatus(_ context.Context, change StatusChange) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *recordingPublisher) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, fmt.Sprintf("%s->%s", c.From, c.To))
	}
	return out
}

type fixture struct {
	clock     *clock.FakeClock
	caps      *auth.Service
	audit     *audit.MemorySink
	publisher *recordingPublisher
	lifecycle *Lifecycle
}

func newFixture(t *testing.T, attempts *ratelimit.Limiter) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	caps := auth.NewService(bytes.Repeat([]byte{0x42}, 32), clk, auth.NewMemoryRevocationStore(clk))
	sink := &audit.MemorySink{}
	pub := &recordingPublisher{}
	registry := NewRegistry(clk, 8*time.Hour, 5*time.Minute)
	lc := NewLifecycle(registry, Options{
		Clock:       clk,
		Authorizer:  caps,
		Audit:       sink,
		PINCost:     bcrypt.MinCost,
		PINAttempts: attempts,
		PINSource:   func(int) (string, error) { return "123456", nil },
	})
	lc.SetPublisher(pub)
	return &fixture{clock: clk, caps: caps, audit: sink, publisher: pub, lifecycle: lc}
}

func (f *fixture) admitToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.caps.Issue(auth.IssueSpec{Scope: auth.ScopeSessionAdmit, TTL: time.Hour, PeerID: userID})
	require.NoError(t, err)
	return token
}

func (f *fixture) pendingSession(t *testing.T) domain.Session {
	t.Helper()
	s, err := f.lifecycle.Create(context.Background(), CreateSpec{DeviceID: "dev-1", HostID: "host-1", CreatedBy: "owner"})
	require.NoError(t, err)
	_, err = f.lifecycle.IssuePIN(context.Background(), s.ID, "owner")
	require.NoError(t, err)
	return s
}

func TestAdmitActivatesExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.pendingSession(t)

	admission, err := f.lifecycle.Admit(ctx, s.ID, AdmitRequest{UserID: "alice", PIN: "123456", Capability: f.admitToken(t, "alice")})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, admission.Session.Status)
	assert.Equal(t, domain.RoleViewer, admission.Role)
	assert.False(t, admission.Session.StartedAt.IsZero())

	_, err = f.lifecycle.Admit(ctx, s.ID, AdmitRequest{UserID: "bob", PIN: "123456", Capability: f.admitToken(t, "bob")})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	require.NoError(t, f.lifecycle.HostStarted(ctx, s.ID))
	require.NoError(t, f.lifecycle.HostStarted(ctx, s.ID))

	assert.Equal(t, []string{"created->pending_pin", "pending_pin->active"}, f.publisher.transitions())
}

func TestWrongPINNeverActivates(t *testing.T) {
	f := newFixture(t, nil)
	s := f.pendingSession(t)

	valid := true
	require.NoError(t, f.lifecycle.registry.With(s.ID, func(s *domain.Session) error {
		valid = f.lifecycle.pinValidLocked(s, "000000")
		return nil
	}))
	assert.False(t, valid)

	_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "000000", Capability: f.admitToken(t, "alice")})
	assert.ErrorIs(t, err, domain.ErrInvalidPIN)

	got, err := f.lifecycle.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPendingPIN, got.Status)
	assert.NotContains(t, f.publisher.transitions(), "pending_pin->active")
}

func TestAdmitChecksCapabilityBeforePIN(t *testing.T) {
	f := newFixture(t, nil)
	s := f.pendingSession(t)

	_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "000000", Capability: "bogus"})
	assert.ErrorIs(t, err, domain.ErrMissingPermission)

	// A token minted for someone else does not carry over.
	_, err = f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "123456", Capability: f.admitToken(t, "mallory")})
	assert.ErrorIs(t, err, domain.ErrMissingPermission)
}

func TestPINExpires(t *testing.T) {
	f := newFixture(t, nil)
	s := f.pendingSession(t)
	f.clock.Advance(10 * time.Minute)

	_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "123456", Capability: f.admitToken(t, "alice")})
	assert.ErrorIs(t, err, domain.ErrInvalidPIN)
	assert.Equal(t, 1, f.lifecycle.ExpirePINs())
}

func TestPINAttemptsAreLimited(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	f := newFixture(t, ratelimit.New(2, time.Minute, clk))
	s := f.pendingSession(t)
	token := f.admitToken(t, "alice")

	for i := 0; i < 2; i++ {
		_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "999999", Capability: token})
		assert.ErrorIs(t, err, domain.ErrInvalidPIN)
	}
	_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "123456", Capability: token})
	assert.Equal(t, "too_many_attempts", domain.CodeOf(err))
}

func TestIssuePINRequiresPrivilegedParticipant(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.lifecycle.Create(context.Background(), CreateSpec{HostID: "host-1", CreatedBy: "owner"})
	require.NoError(t, err)

	_, err = f.lifecycle.IssuePIN(context.Background(), s.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	issued, err := f.lifecycle.IssuePIN(context.Background(), s.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, "123456", issued.PIN)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), issued.ExpiresAt)
}

func TestConcurrentAdmissionsActivateOnce(t *testing.T) {
	f := newFixture(t, nil)
	s := f.pendingSession(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		user := fmt.Sprintf("user-%d", i)
		token := f.admitToken(t, user)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: user, PIN: "123456", Capability: token}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func activeSession(t *testing.T, f *fixture) domain.Session {
	t.Helper()
	s := f.pendingSession(t)
	_, err := f.lifecycle.Admit(context.Background(), s.ID, AdmitRequest{UserID: "alice", PIN: "123456", Capability: f.admitToken(t, "alice")})
	require.NoError(t, err)
	return s
}

func TestAbsoluteTimeoutLazyCheck(t *testing.T) {
	f := newFixture(t, nil)
	s := activeSession(t, f)

	got, err := f.lifecycle.Get(s.ID)
	require.NoError(t, err)
	f.clock.Advance(8*time.Hour + time.Second)
	assert.True(t, got.IsTimedOut(f.clock.Now()))

	_, err = f.lifecycle.Get(s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)

	status, ok := f.lifecycle.Registry().Tombstone(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.SessionEnded, status)

	records := f.audit.Records()
	require.Len(t, records, 1)
	assert.Equal(t, ReasonTimeout, records[0].Reason)
	assert.Contains(t, f.publisher.transitions(), "->ended")
}

func TestSweepTimeouts(t *testing.T) {
	f := newFixture(t, nil)
	first := activeSession(t, f)
	f.clock.Advance(4 * time.Hour)
	second := activeSession(t, f)
	f.clock.Advance(4*time.Hour + time.Minute)

	assert.Equal(t, 1, f.lifecycle.SweepTimeouts())
	_, err := f.lifecycle.Get(first.ID)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	_, err = f.lifecycle.Get(second.ID)
	assert.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.lifecycle.Registry().SweepTombstones())
	_, err = f.lifecycle.Get(first.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestUnadmittedSessionsTimeOut(t *testing.T) {
	f := newFixture(t, nil)
	created, err := f.lifecycle.Create(context.Background(), CreateSpec{HostID: "host-1", CreatedBy: "owner"})
	require.NoError(t, err)
	pending := f.pendingSession(t)
	active := activeSession(t, f)

	f.clock.Advance(domain.DefaultAdmissionTimeout + time.Second)
	_, err = f.lifecycle.Get(created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Equal(t, 1, f.lifecycle.SweepTimeouts())

	for _, id := range []string{created.ID, pending.ID} {
		status, ok := f.lifecycle.Registry().Tombstone(id)
		require.True(t, ok)
		assert.Equal(t, domain.SessionEnded, status)
	}
	got, err := f.lifecycle.Get(active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, got.Status)

	records := f.audit.Records()
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, ReasonTimeout, record.Reason)
	}
}

func TestHostNotificationsAreIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := activeSession(t, f)

	require.NoError(t, f.lifecycle.HostEnded(ctx, s.ID, ""))
	require.NoError(t, f.lifecycle.HostEnded(ctx, s.ID, ""))
	require.NoError(t, f.lifecycle.HostError(ctx, s.ID, "capture crashed"))

	status, ok := f.lifecycle.Registry().Tombstone(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.SessionEnded, status)
	assert.Len(t, f.audit.Records(), 1)
	assert.Error(t, f.lifecycle.HostStarted(ctx, s.ID))
}

func TestHostDisconnectAndRestart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := activeSession(t, f)

	assert.Equal(t, 1, f.lifecycle.HostDisconnected(ctx, "host-1"))
	got, err := f.lifecycle.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionDisconnected, got.Status)

	require.NoError(t, f.lifecycle.HostStarted(ctx, s.ID))
	got, err = f.lifecycle.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, got.Status)
}

func TestHostStartedBeforeAdmissionIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	s := f.pendingSession(t)
	err := f.lifecycle.HostStarted(context.Background(), s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)
}

func TestEndRequiresPrivilegeAndRevokesTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := activeSession(t, f)
	join, err := f.caps.Issue(auth.IssueSpec{Scope: auth.ScopeSessionJoin, TTL: time.Hour, SessionID: s.ID, PeerID: "alice"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.lifecycle.End(ctx, s.ID, "alice", ""), domain.ErrMissingPermission)
	require.NoError(t, f.lifecycle.End(ctx, s.ID, "owner", ""))

	_, ok := f.caps.Validate(join, auth.Requirement{Scope: auth.ScopeSessionJoin, SessionID: s.ID})
	assert.False(t, ok)
}

func TestFailRecordsReason(t *testing.T) {
	f := newFixture(t, nil)
	s := activeSession(t, f)
	var seen domain.Session
	f.lifecycle.OnTerminal(func(final domain.Session) { seen = final })

	require.NoError(t, f.lifecycle.Fail(context.Background(), s.ID, "router_panic"))
	assert.Equal(t, domain.SessionFailed, seen.Status)
	assert.Equal(t, "router_panic", seen.StatusReason)
	assert.False(t, seen.EndedAt.IsZero())
}
