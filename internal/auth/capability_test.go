package auth

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"remotedesk/internal/clock"
)

func newTestService(clk clock.Clock) *Service {
	return NewService(bytes.Repeat([]byte{0x42}, 32), clk, NewMemoryRevocationStore(clk))
}

func TestIssueValidateAcrossRestart(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)
	svc1 := NewService(secret, nil, nil)
	token, err := svc1.Issue(IssueSpec{Scope: ScopeSessionJoin, TTL: time.Minute, SessionID: "s1", PeerID: "alice", Role: "viewer"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc2 := NewService(secret, nil, nil)
	claims, ok := svc2.Validate(token, Requirement{Scope: ScopeSessionJoin, SessionID: "s1"})
	if !ok {
		t.Fatalf("expected token to validate across restarts")
	}
	if claims.PeerID != "alice" || claims.Role != "viewer" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejectsWrongScopeAndBinding(t *testing.T) {
	svc := newTestService(clock.RealClock{})
	token, err := svc.Issue(IssueSpec{Scope: ScopeHostConnect, TTL: time.Minute, HostID: "host-1"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, ok := svc.Validate(token, Requirement{Scope: ScopeSessionJoin}); ok {
		t.Fatalf("expected wrong scope to fail")
	}
	if _, ok := svc.Validate(token, Requirement{Scope: ScopeHostConnect, HostID: "host-2"}); ok {
		t.Fatalf("expected wrong host to fail")
	}
	if _, ok := svc.Validate(token, Requirement{Scope: ScopeHostConnect, HostID: "host-1"}); !ok {
		t.Fatalf("expected matching host to pass")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(fake)
	token, err := svc.Issue(IssueSpec{Scope: ScopeSessionAdmit, TTL: 10 * time.Second, PeerID: "bob"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	fake.Advance(11 * time.Second)
	if _, ok := svc.Validate(token, Requirement{Scope: ScopeSessionAdmit}); ok {
		t.Fatalf("expected expired token to fail validation")
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := newTestService(clock.RealClock{})
	token, err := svc.Issue(IssueSpec{Scope: ScopeSessionAdmit, TTL: time.Minute})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	parts := strings.Split(token, ".")
	payload := []byte(parts[0])
	if payload[0] == 'a' {
		payload[0] = 'b'
	} else {
		payload[0] = 'a'
	}
	if _, ok := svc.Validate(string(payload)+"."+parts[1], Requirement{Scope: ScopeSessionAdmit}); ok {
		t.Fatalf("expected tampered token to fail validation")
	}
}

func TestRevokeSessionAndSingleUse(t *testing.T) {
	svc := newTestService(clock.RealClock{})
	join, _ := svc.Issue(IssueSpec{Scope: ScopeSessionJoin, TTL: time.Minute, SessionID: "s1"})
	svc.RevokeSession("s1")
	if _, ok := svc.Validate(join, Requirement{Scope: ScopeSessionJoin, SessionID: "s1"}); ok {
		t.Fatalf("expected revoked session token to fail")
	}

	once, _ := svc.Issue(IssueSpec{Scope: ScopeSessionAdmit, TTL: time.Minute, SingleUse: true})
	if _, ok := svc.Validate(once, Requirement{Scope: ScopeSessionAdmit, SingleUse: true}); !ok {
		t.Fatalf("expected first use to pass")
	}
	if _, ok := svc.Validate(once, Requirement{Scope: ScopeSessionAdmit, SingleUse: true}); ok {
		t.Fatalf("expected replay to fail")
	}
}

func TestLoadOrCreateSecretPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("create secret: %v", err)
	}
	second, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("load secret: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected persisted secret to be reused")
	}
	if err := ValidateSecret(first); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}
