// Package audit pushes completed-session records to an external sink. The
// core never reads them back.
package audit

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
)

type Record struct {
	SessionID    string               `json:"session_id"`
	DeviceID     string               `json:"device_id"`
	HostID       string               `json:"host_id"`
	CreatedBy    string               `json:"created_by"`
	Type         domain.SessionType   `json:"type"`
	FinalStatus  domain.SessionStatus `json:"final_status"`
	Reason       string               `json:"reason,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    time.Time            `json:"started_at,omitempty"`
	EndedAt      time.Time            `json:"ended_at"`
	Participants []string             `json:"participants"`
	Transfers    int                  `json:"transfers"`
}

func FromSession(s domain.Session) Record {
	participants := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		participants = append(participants, id)
	}
	return Record{
		SessionID:    s.ID,
		DeviceID:     s.DeviceID,
		HostID:       s.HostID,
		CreatedBy:    s.CreatedBy,
		Type:         s.Type,
		FinalStatus:  s.Status,
		Reason:       s.StatusReason,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Participants: participants,
		Transfers:    len(s.Transfers),
	}
}

type Sink interface {
	Record(ctx context.Context, record Record)
}

// LogSink writes one allowlisted line per record.
type LogSink struct {
	Logger *log.Logger
}

func (l LogSink) Record(_ context.Context, record Record) {
	logging.Allowlist(l.Logger, map[string]string{
		"event":      "session_audit",
		"session_id": record.SessionID,
		"host_id":    record.HostID,
		"user_id":    record.CreatedBy,
		"type":       string(record.Type),
		"status":     string(record.FinalStatus),
		"reason":     record.Reason,
		"count":      strconv.Itoa(len(record.Participants)),
	})
}

// MemorySink keeps records in memory; handy for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemorySink) Record(_ context.Context, record Record) {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
}

func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

type Discard struct{}

func (Discard) Record(context.Context, Record) {}
