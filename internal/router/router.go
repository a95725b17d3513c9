// Package router owns the real-time fan-out. Connections belong to logical
// groups (one per session, one per host and one for administrators) and
// inbound messages are dispatched through a single tagged switch.
package router

import (
	"context"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"remotedesk/internal/clipboard"
	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/monitor"
	"remotedesk/internal/participant"
	"remotedesk/internal/provider"
	"remotedesk/internal/quality"
	"remotedesk/internal/session"
)

type Kind string

const (
	KindHost        Kind = "host"
	KindParticipant Kind = "participant"
	KindAdmin       Kind = "admin"
)

// Identity is what the transport authenticated for a connection.
// Participants are bound to one session; hosts to one host id.
type Identity struct {
	Kind      Kind
	UserID    string
	HostID    string
	SessionID string
	Role      domain.Role
}

// Conn is one live connection. Send must not block on the network; the
// transport queues and writes asynchronously.
type Conn interface {
	ID() string
	Identity() Identity
	Send(msg Message) error
}

const AdministratorsGroup = "administrators"

func SessionGroup(sessionID string) string { return "session:" + sessionID }

func HostGroup(hostID string) string { return "host:" + hostID }

type Options struct {
	Lifecycle    *session.Lifecycle
	Participants *participant.Coordinator
	Monitors     *monitor.Coordinator
	Clipboard    *clipboard.Engine
	Transfers    *filetransfer.Manager
	Quality      *quality.Controller
	Health       *quality.HealthMonitor
	// Provider is optional; without it input is only relayed.
	Provider provider.Provider
	Clock    clock.Clock
	Metrics  *metrics.Counters
	Logger   *log.Logger
}

type Router struct {
	lifecycle    *session.Lifecycle
	participants *participant.Coordinator
	monitors     *monitor.Coordinator
	clipboard    *clipboard.Engine
	transfers    *filetransfer.Manager
	quality      *quality.Controller
	health       *quality.HealthMonitor
	provider     provider.Provider
	clock        clock.Clock
	metrics      *metrics.Counters
	logger       *log.Logger

	mu          sync.RWMutex
	conns       map[string]Conn
	groups      map[string]map[string]Conn
	memberships map[string]map[string]struct{}
	hosts       map[string]domain.HostInfo
}

// New builds the router and registers it as the status publisher, monitor
// notifier, clipboard transmitter, chunk relay and health handler of the
// components it is given.
func New(opts Options) *Router {
	r := &Router{
		lifecycle:    opts.Lifecycle,
		participants: opts.Participants,
		monitors:     opts.Monitors,
		clipboard:    opts.Clipboard,
		transfers:    opts.Transfers,
		quality:      opts.Quality,
		health:       opts.Health,
		provider:     opts.Provider,
		clock:        opts.Clock,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		conns:        map[string]Conn{},
		groups:       map[string]map[string]Conn{},
		memberships:  map[string]map[string]struct{}{},
		hosts:        map[string]domain.HostInfo{},
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCounters()
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard, "", 0)
	}
	if r.lifecycle != nil {
		r.lifecycle.SetPublisher(r)
	}
	if r.monitors != nil {
		r.monitors.SetNotifier(r)
	}
	if r.clipboard != nil {
		r.clipboard.SetTransmitter(r)
	}
	if r.transfers != nil {
		r.transfers.SetRelay(r)
	}
	if r.health != nil {
		r.health.OnReport(r.HandleHealth)
	}
	return r
}

// Register admits a connection. Hosts join their host group and the
// groups of their live sessions; administrators join the administrators
// group. Participants join their session group on join_session.
func (r *Router) Register(ctx context.Context, conn Conn) {
	id := conn.Identity()
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()

	switch id.Kind {
	case KindHost:
		r.join(conn, HostGroup(id.HostID))
		for _, sessionID := range r.lifecycle.Registry().ForHost(id.HostID) {
			r.join(conn, SessionGroup(sessionID))
		}
	case KindAdmin:
		r.join(conn, AdministratorsGroup)
	}
	logging.Allowlist(r.logger, map[string]string{
		"event":         "connection_registered",
		"connection_id": conn.ID(),
		"session_id":    id.SessionID,
		"host_id":       id.HostID,
		"user_id":       id.UserID,
		"type":          string(id.Kind),
	})
}

// Unregister forgets a dropped connection. A participant is disconnected
// from every session it had joined, releasing control; the last connection
// of a host marks that host's active sessions disconnected.
func (r *Router) Unregister(ctx context.Context, conn Conn) {
	id := conn.Identity()
	groups := r.leaveAll(conn)

	r.mu.Lock()
	delete(r.conns, conn.ID())
	hostGone := id.Kind == KindHost && len(r.groups[HostGroup(id.HostID)]) == 0
	r.mu.Unlock()

	switch id.Kind {
	case KindParticipant, KindAdmin:
		for _, group := range groups {
			sessionID, ok := sessionOf(group)
			if !ok {
				continue
			}
			left, found, err := r.participants.Disconnect(sessionID, conn.ID())
			if err != nil || !found {
				continue
			}
			r.Broadcast(ctx, group, Message{
				Type:      MsgUserLeft,
				SessionID: sessionID,
				Payload:   memberPayload{Participant: left.Participant, ReleasedControl: left.ReleasedControl},
			})
		}
	case KindHost:
		if hostGone {
			count := r.lifecycle.HostDisconnected(ctx, id.HostID)
			logging.Allowlist(r.logger, map[string]string{
				"event":   "host_disconnected",
				"host_id": id.HostID,
				"count":   strconv.Itoa(count),
			})
		}
	}
}

// Broadcast delivers to every member of group and returns how many sends
// succeeded. An empty group is a no-op.
func (r *Router) Broadcast(ctx context.Context, group string, msg Message) int {
	return r.deliver(ctx, r.members(group), msg)
}

// BroadcastExcept delivers to every member of group but the sender.
func (r *Router) BroadcastExcept(ctx context.Context, group, exceptID string, msg Message) int {
	recipients := r.members(group)
	kept := recipients[:0]
	for _, conn := range recipients {
		if conn.ID() != exceptID {
			kept = append(kept, conn)
		}
	}
	return r.deliver(ctx, kept, msg)
}

func (r *Router) SendTo(ctx context.Context, connID string, msg Message) error {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return domain.NotFound("connection_not_found")
	}
	if r.deliver(ctx, []Conn{conn}, msg) == 0 {
		return domain.Transient("delivery_failed", nil)
	}
	return nil
}

// Members lists connection ids in group, sorted.
func (r *Router) Members(group string) []string {
	conns := r.members(group)
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID())
	}
	sort.Strings(ids)
	return ids
}

// Counts reports how many hosts have registered and how many connections
// are open.
func (r *Router) Counts() (hosts, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts), len(r.conns)
}

// Host returns the last registration of hostID.
func (r *Router) Host(hostID string) (domain.HostInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.hosts[hostID]
	return info, ok
}

// deliver sends to each recipient in turn. A failed send is logged and
// counted and never stops delivery to the rest.
func (r *Router) deliver(ctx context.Context, recipients []Conn, msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.clock.Now()
	}
	delivered := 0
	for _, conn := range recipients {
		if err := conn.Send(msg); err != nil {
			r.metrics.IncDeliveryFailures()
			logging.Allowlist(r.logger, map[string]string{
				"event":         "delivery_failed",
				"session_id":    msg.SessionID,
				"connection_id": conn.ID(),
				"type":          string(msg.Type),
				"error":         err.Error(),
			})
			continue
		}
		delivered++
	}
	return delivered
}

// members snapshots a group, or the union of several groups without
// duplicates.
func (r *Router) members(groups ...string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []Conn
	for _, group := range groups {
		for id, conn := range r.groups[group] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Router) join(conn Conn, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		members = map[string]Conn{}
		r.groups[group] = members
	}
	members[conn.ID()] = conn
	joined, ok := r.memberships[conn.ID()]
	if !ok {
		joined = map[string]struct{}{}
		r.memberships[conn.ID()] = joined
	}
	joined[group] = struct{}{}
}

func (r *Router) leave(conn Conn, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID(), group)
}

func (r *Router) leaveLocked(connID, group string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if joined, ok := r.memberships[connID]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(r.memberships, connID)
		}
	}
}

func (r *Router) leaveAll(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var groups []string
	for group := range r.memberships[conn.ID()] {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		r.leaveLocked(conn.ID(), group)
	}
	return groups
}

// dropGroup dissolves a session group once the session is over.
func (r *Router) dropGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.groups[group] {
		if joined, ok := r.memberships[connID]; ok {
			delete(joined, group)
			if len(joined) == 0 {
				delete(r.memberships, connID)
			}
		}
	}
	delete(r.groups, group)
}

func (r *Router) inGroup(connID, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[group][connID]
	return ok
}

func sessionOf(group string) (string, bool) {
	id, ok := strings.CutPrefix(group, "session:")
	return id, ok && id != ""
}
