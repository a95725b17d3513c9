// Package filetransfer runs chunked, resumable file transfers inside a
// session. Chunk bytes are staged in a storage.ChunkStore and relayed to
// the receiving side; transfer state lives on the session.
package filetransfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/retry"
	"remotedesk/internal/session"
	"remotedesk/internal/storage"
)

// Relayed is one accepted chunk on its way to the receiving side.
type Relayed struct {
	SessionID string
	SenderID  string
	Direction domain.TransferDirection
	Chunk     domain.FileChunk
}

type Relay interface {
	RelayChunk(ctx context.Context, relayed Relayed) error
}

type Options struct {
	Clock             clock.Clock
	Store             storage.ChunkStore
	Relay             Relay
	Metrics           *metrics.Counters
	Logger            *log.Logger
	ChunkSize         int64
	MaxFileBytes      int64
	AllowedExtensions []string
	MaxRetries        int
	RetryDelay        time.Duration
}

type Manager struct {
	registry   *session.Registry
	clock      clock.Clock
	store      storage.ChunkStore
	relay      Relay
	metrics    *metrics.Counters
	logger     *log.Logger
	chunkSize  int64
	maxBytes   int64
	extensions []string
	policy     retry.Policy

	mu    sync.Mutex
	index map[string]string
}

func New(registry *session.Registry, opts Options) *Manager {
	m := &Manager{
		registry:   registry,
		clock:      opts.Clock,
		store:      opts.Store,
		relay:      opts.Relay,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		chunkSize:  opts.ChunkSize,
		maxBytes:   opts.MaxFileBytes,
		extensions: opts.AllowedExtensions,
		index:      map[string]string{},
	}
	if m.clock == nil {
		m.clock = clock.RealClock{}
	}
	if m.metrics == nil {
		m.metrics = metrics.NewCounters()
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	if m.chunkSize <= 0 || m.chunkSize > domain.MaxChunkSize {
		m.chunkSize = domain.DefaultChunkSize
	}
	m.policy = retry.Policy{MaxRetries: opts.MaxRetries, Delay: opts.RetryDelay, Clock: m.clock}
	return m
}

func (m *Manager) SetRelay(r Relay) {
	m.relay = r
}

type StartRequest struct {
	UserID    string                   `json:"user_id"`
	Direction domain.TransferDirection `json:"direction"`
	FileName  string                   `json:"file_name"`
	TotalSize int64                    `json:"total_size"`
	ChunkSize int64                    `json:"chunk_size,omitempty"`
	// Checksum is the hex BLAKE3-256 digest of the whole file, verified on
	// completion when set.
	Checksum string `json:"checksum,omitempty"`
}

func (m *Manager) Start(ctx context.Context, sessionID string, req StartRequest) (domain.FileTransfer, error) {
	if req.Direction != domain.TransferUpload && req.Direction != domain.TransferDownload {
		return domain.FileTransfer{}, domain.Validation("invalid_transfer_direction")
	}
	name := strings.TrimSpace(req.FileName)
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return domain.FileTransfer{}, domain.Validation("invalid_file_name")
	}
	if req.TotalSize <= 0 {
		return domain.FileTransfer{}, domain.Validation("invalid_file_size")
	}
	if m.maxBytes > 0 && req.TotalSize > m.maxBytes {
		return domain.FileTransfer{}, domain.Validation("file_too_large")
	}
	if !m.extensionAllowed(name) {
		return domain.FileTransfer{}, domain.Validation("extension_not_allowed")
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = m.chunkSize
	}
	if chunkSize < 0 || chunkSize > domain.MaxChunkSize {
		return domain.FileTransfer{}, domain.Validation("invalid_chunk_size")
	}
	chunks := req.TotalSize / chunkSize
	if req.TotalSize%chunkSize != 0 {
		chunks++
	}
	if chunks > domain.MaxTotalChunks {
		return domain.FileTransfer{}, domain.Validation("too_many_chunks")
	}
	totalChunks := int(chunks)

	transfer := domain.FileTransfer{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      req.UserID,
		Direction:   req.Direction,
		FileName:    name,
		TotalSize:   req.TotalSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Status:      domain.TransferPending,
		Checksum:    strings.ToLower(req.Checksum),
		StartTime:   m.clock.Now(),
		Received:    make([]bool, totalChunks),
	}
	err := m.registry.With(sessionID, func(s *domain.Session) error {
		if s.Status != domain.SessionActive {
			return domain.ErrSessionNotActive
		}
		if s.Type == domain.SessionTypeViewOnly {
			return domain.ErrMissingPermission
		}
		if _, ok := s.Participants[req.UserID]; !ok {
			return domain.ErrNotParticipant
		}
		stored := transfer.Clone()
		s.Transfers[transfer.ID] = &stored
		return nil
	})
	if err != nil {
		m.logFailure(sessionID, transfer.ID, "transfer_start_rejected", err)
		return domain.FileTransfer{}, err
	}
	m.mu.Lock()
	m.index[transfer.ID] = sessionID
	m.mu.Unlock()
	m.metrics.IncTransfersStarted()
	logging.Allowlist(m.logger, map[string]string{
		"event":       "transfer_started",
		"session_id":  sessionID,
		"user_id":     req.UserID,
		"transfer_id": transfer.ID,
		"count":       strconv.Itoa(totalChunks),
	})
	return transfer, nil
}

// AcceptChunk stages, relays and records one chunk. A chunk whose transfer
// id does not match is rejected before anything changes. Duplicate indices
// succeed without counting twice.
func (m *Manager) AcceptChunk(ctx context.Context, sessionID, transferID, senderID string, chunk domain.FileChunk) (domain.FileTransfer, error) {
	if chunk.TransferID != transferID {
		return domain.FileTransfer{}, domain.ErrTransferIDMismatch
	}
	var (
		snapshot  domain.FileTransfer
		duplicate bool
	)
	err := m.withTransfer(sessionID, transferID, func(s *domain.Session, t *domain.FileTransfer) error {
		if chunk.Index < 0 || chunk.Index >= t.TotalChunks {
			return domain.Validation("invalid_chunk_index")
		}
		if int64(len(chunk.Data)) != t.ChunkLength(chunk.Index) {
			return domain.Validation("invalid_chunk_size")
		}
		if t.Received[chunk.Index] {
			duplicate = true
			snapshot = t.Clone()
			return nil
		}
		switch t.Status {
		case domain.TransferPending, domain.TransferInProgress:
			snapshot = t.Clone()
			return nil
		case domain.TransferPaused:
			return domain.Conflict("transfer_paused")
		}
		return domain.Conflict("transfer_not_active")
	})
	if err != nil || duplicate {
		return snapshot, err
	}

	if m.store != nil {
		if err := m.store.WriteChunk(ctx, transferID, chunk.Index, chunk.Data); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return domain.FileTransfer{}, domain.Conflict("chunk_conflict")
			}
			return domain.FileTransfer{}, domain.Transient("chunk_store_failed", err)
		}
	}
	if err := m.relayChunk(ctx, sessionID, senderID, snapshot.Direction, chunk); err != nil {
		m.logFailure(sessionID, transferID, "chunk_relay_failed", err)
		return domain.FileTransfer{}, err
	}

	var complete bool
	err = m.withTransfer(sessionID, transferID, func(s *domain.Session, t *domain.FileTransfer) error {
		if t.Status.Terminal() {
			snapshot = t.Clone()
			return domain.Conflict("transfer_not_active")
		}
		if !t.Received[chunk.Index] {
			t.Received[chunk.Index] = true
			t.ChunksReceived++
			t.BytesReceived += int64(len(chunk.Data))
		}
		if t.Status == domain.TransferPending {
			t.Status = domain.TransferInProgress
		}
		complete = t.ChunksReceived == t.TotalChunks && t.Status == domain.TransferInProgress
		if complete && t.Checksum == "" {
			t.Status = domain.TransferCompleted
			t.CompletedTime = m.clock.Now()
		}
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		return snapshot, err
	}
	if !complete {
		return snapshot, nil
	}
	if snapshot.Checksum != "" {
		return m.verify(ctx, sessionID, snapshot)
	}
	m.finished(ctx, snapshot)
	return snapshot, nil
}

// verify hashes the staged file and settles the transfer as completed or
// failed.
func (m *Manager) verify(ctx context.Context, sessionID string, t domain.FileTransfer) (domain.FileTransfer, error) {
	sum, err := m.checksum(ctx, t)
	status := domain.TransferCompleted
	reason := ""
	if err != nil {
		status, reason = domain.TransferFailed, "checksum_unavailable"
	} else if sum != t.Checksum {
		status, reason = domain.TransferFailed, "checksum_mismatch"
	}
	var snapshot domain.FileTransfer
	err = m.withTransfer(sessionID, t.ID, func(s *domain.Session, stored *domain.FileTransfer) error {
		if stored.Status == domain.TransferInProgress && stored.ChunksReceived == stored.TotalChunks {
			stored.Status = status
			stored.FailureReason = reason
			if status == domain.TransferCompleted {
				stored.CompletedTime = m.clock.Now()
			}
		}
		snapshot = stored.Clone()
		return nil
	})
	if err != nil {
		return domain.FileTransfer{}, err
	}
	m.finished(ctx, snapshot)
	if snapshot.Status == domain.TransferFailed {
		return snapshot, domain.Validation(reason)
	}
	return snapshot, nil
}

func (m *Manager) checksum(ctx context.Context, t domain.FileTransfer) (string, error) {
	if m.store == nil {
		return "", storage.ErrNotFound
	}
	staged, err := m.store.ListChunks(ctx, t.ID)
	if err != nil {
		return "", err
	}
	if len(staged) != t.TotalChunks {
		return "", fmt.Errorf("staged %d of %d chunks", len(staged), t.TotalChunks)
	}
	hasher := blake3.New()
	for i := 0; i < t.TotalChunks; i++ {
		data, err := m.store.ReadChunk(ctx, t.ID, i)
		if err != nil {
			return "", err
		}
		hasher.Write(data)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (m *Manager) relayChunk(ctx context.Context, sessionID, senderID string, direction domain.TransferDirection, chunk domain.FileChunk) error {
	if m.relay == nil {
		return nil
	}
	relayed := Relayed{SessionID: sessionID, SenderID: senderID, Direction: direction, Chunk: chunk}
	result := m.policy.Do(ctx, func(ctx context.Context) error {
		return m.relay.RelayChunk(ctx, relayed)
	})
	if result.Err == nil {
		return nil
	}
	if result.Exhausted() {
		return domain.Transient("chunk_relay_failed", result.Err)
	}
	return result.Err
}

func (m *Manager) Pause(ctx context.Context, sessionID, transferID, callerID string) (domain.FileTransfer, error) {
	return m.transition(ctx, sessionID, transferID, callerID, "", func(t *domain.FileTransfer) error {
		switch t.Status {
		case domain.TransferPending, domain.TransferInProgress:
			t.Status = domain.TransferPaused
			return nil
		case domain.TransferPaused:
			return nil
		}
		return domain.Conflict("illegal_transfer_transition")
	})
}

func (m *Manager) Resume(ctx context.Context, sessionID, transferID, callerID string) (domain.FileTransfer, error) {
	return m.transition(ctx, sessionID, transferID, callerID, "", func(t *domain.FileTransfer) error {
		switch t.Status {
		case domain.TransferPaused:
			t.Status = domain.TransferInProgress
			return nil
		case domain.TransferInProgress:
			return nil
		}
		return domain.Conflict("illegal_transfer_transition")
	})
}

// Cancel is terminal from any non-terminal state.
func (m *Manager) Cancel(ctx context.Context, sessionID, transferID, callerID string) (domain.FileTransfer, error) {
	return m.transition(ctx, sessionID, transferID, callerID, "", func(t *domain.FileTransfer) error {
		if t.Status.Terminal() {
			return domain.Conflict("illegal_transfer_transition")
		}
		t.Status = domain.TransferCancelled
		return nil
	})
}

// Fail ends a transfer with a reason. An empty callerID skips the
// permission check for server-side failures.
func (m *Manager) Fail(ctx context.Context, sessionID, transferID, callerID, reason string) (domain.FileTransfer, error) {
	return m.transition(ctx, sessionID, transferID, callerID, reason, func(t *domain.FileTransfer) error {
		if t.Status.Terminal() {
			return domain.Conflict("illegal_transfer_transition")
		}
		t.Status = domain.TransferFailed
		t.FailureReason = reason
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, sessionID, transferID, callerID, reason string, fn func(*domain.FileTransfer) error) (domain.FileTransfer, error) {
	var snapshot domain.FileTransfer
	err := m.withTransfer(sessionID, transferID, func(s *domain.Session, t *domain.FileTransfer) error {
		if callerID != "" && callerID != t.UserID {
			p, ok := s.Participants[callerID]
			if !ok {
				return domain.ErrNotParticipant
			}
			if !p.Role.Privileged() {
				return domain.ErrMissingPermission
			}
		}
		if err := fn(t); err != nil {
			return err
		}
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		m.logFailure(sessionID, transferID, "transfer_transition_rejected", err)
		return domain.FileTransfer{}, err
	}
	if snapshot.Status.Terminal() {
		m.finished(ctx, snapshot)
	}
	return snapshot, nil
}

func (m *Manager) Get(sessionID, transferID string) (domain.FileTransfer, error) {
	var out domain.FileTransfer
	err := m.withTransfer(sessionID, transferID, func(_ *domain.Session, t *domain.FileTransfer) error {
		out = t.Clone()
		return nil
	})
	return out, err
}

func (m *Manager) List(sessionID string) ([]domain.FileTransfer, error) {
	s, err := m.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileTransfer, 0, len(s.Transfers))
	for _, t := range s.Transfers {
		out = append(out, *t)
	}
	return out, nil
}

// Progress reports percent complete and, once bytes have moved, speed and
// remaining time. EstimateKnown is false when no rate can be derived.
func (m *Manager) Progress(sessionID, transferID string) (domain.TransferProgress, error) {
	t, err := m.Get(sessionID, transferID)
	if err != nil {
		return domain.TransferProgress{}, err
	}
	return ProgressOf(t, m.clock.Now()), nil
}

func ProgressOf(t domain.FileTransfer, now time.Time) domain.TransferProgress {
	p := domain.TransferProgress{
		TransferID:     t.ID,
		Status:         t.Status,
		BytesReceived:  t.BytesReceived,
		TotalSize:      t.TotalSize,
		ChunksReceived: t.ChunksReceived,
		TotalChunks:    t.TotalChunks,
	}
	if t.TotalSize > 0 {
		p.Percent = int(t.BytesReceived * 100 / t.TotalSize)
	}
	end := now
	if !t.CompletedTime.IsZero() {
		end = t.CompletedTime
	}
	elapsed := end.Sub(t.StartTime).Seconds()
	if elapsed > 0 && t.BytesReceived > 0 {
		p.SpeedBps = float64(t.BytesReceived) / elapsed
		p.RemainingSeconds = float64(t.TotalSize-t.BytesReceived) / p.SpeedBps
		p.EstimateKnown = true
	}
	return p
}

func (m *Manager) MissingChunks(sessionID, transferID string) ([]int, error) {
	var missing []int
	err := m.withTransfer(sessionID, transferID, func(_ *domain.Session, t *domain.FileTransfer) error {
		missing = t.Missing()
		return nil
	})
	return missing, err
}

// SessionEnded drops staged bytes for every transfer of a finished session.
func (m *Manager) SessionEnded(s domain.Session) {
	for id := range s.Transfers {
		m.forget(context.Background(), id)
	}
}

// Sweep removes staged transfers no longer tracked by any session.
func (m *Manager) Sweep(ctx context.Context) (storage.SweepReport, error) {
	if m.store == nil {
		return storage.SweepReport{}, nil
	}
	return m.store.Sweep(ctx, m.live)
}

func (m *Manager) live(transferID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[transferID]
	return ok
}

func (m *Manager) finished(ctx context.Context, t domain.FileTransfer) {
	switch t.Status {
	case domain.TransferCompleted:
		m.metrics.IncTransfersCompleted()
	case domain.TransferFailed:
		m.metrics.IncTransfersFailed()
	}
	logging.Allowlist(m.logger, map[string]string{
		"event":       "transfer_" + string(t.Status),
		"session_id":  t.SessionID,
		"transfer_id": t.ID,
		"reason":      t.FailureReason,
	})
	m.forget(ctx, t.ID)
}

func (m *Manager) forget(ctx context.Context, transferID string) {
	m.mu.Lock()
	delete(m.index, transferID)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.DeleteTransfer(ctx, transferID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.Allowlist(m.logger, map[string]string{
				"event":       "transfer_cleanup_failed",
				"transfer_id": transferID,
				"error":       err.Error(),
			})
		}
	}
}

func (m *Manager) withTransfer(sessionID, transferID string, fn func(*domain.Session, *domain.FileTransfer) error) error {
	return m.registry.With(sessionID, func(s *domain.Session) error {
		t, ok := s.Transfers[transferID]
		if !ok {
			return domain.ErrTransferNotFound
		}
		return fn(s, t)
	})
}

func (m *Manager) extensionAllowed(name string) bool {
	if len(m.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range m.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (m *Manager) logFailure(sessionID, transferID, event string, err error) {
	logging.Allowlist(m.logger, map[string]string{
		"event":       event,
		"session_id":  sessionID,
		"transfer_id": transferID,
		"error":       domain.CodeOf(err),
	})
}
