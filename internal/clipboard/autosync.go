package clipboard

import (
	"context"
	"errors"

	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
)

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Offer parks content observed on one side for the next auto-sync tick.
// Offers between ticks coalesce: only the latest per side is sent.
func (e *Engine) Offer(sessionID string, origin Origin, content domain.ClipboardContent) error {
	if !origin.Valid() {
		return domain.ErrInvalidClipboard
	}
	if err := content.Validate(); err != nil {
		return err
	}
	content = content.Clone()
	if content.Timestamp.IsZero() {
		content.Timestamp = e.clock.Now()
	}
	e.mu.Lock()
	slots, ok := e.pending[sessionID]
	if !ok {
		slots = map[Origin]domain.ClipboardContent{}
		e.pending[sessionID] = slots
	}
	slots[origin] = content
	e.mu.Unlock()
	return nil
}

// StartAutoSync starts the session's sync loop. It reports false when a
// loop is already running.
func (e *Engine) StartAutoSync(sessionID string) bool {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return false
	}
	interval := e.effective(s.Clipboard.Config).Interval

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.loops[sessionID]; running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	e.loops[sessionID] = l
	ticker := e.clock.NewTicker(interval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(l.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !e.tick(ctx, sessionID) {
					e.removeLoop(sessionID, l)
					return
				}
			}
		}
	}()
	return true
}

// StopAutoSync cancels the session's loop without waiting for it, so it is
// safe to call from inside a tick.
func (e *Engine) StopAutoSync(sessionID string) {
	e.mu.Lock()
	l, ok := e.loops[sessionID]
	delete(e.loops, sessionID)
	e.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// Running reports whether an auto-sync loop is active for the session.
func (e *Engine) Running(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.loops[sessionID]
	return ok
}

// Forget stops the loop and drops parked offers for a session that is gone.
func (e *Engine) Forget(sessionID string) {
	e.StopAutoSync(sessionID)
	e.dropPending(sessionID)
}

// Close stops every loop and waits for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	for id, l := range e.loops {
		l.cancel()
		delete(e.loops, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) removeLoop(sessionID string, l *loop) {
	e.mu.Lock()
	if e.loops[sessionID] == l {
		delete(e.loops, sessionID)
	}
	e.mu.Unlock()
}

func (e *Engine) dropPending(sessionID string) {
	e.mu.Lock()
	delete(e.pending, sessionID)
	e.mu.Unlock()
}

func (e *Engine) takePending(sessionID string) map[Origin]domain.ClipboardContent {
	e.mu.Lock()
	defer e.mu.Unlock()
	slots := e.pending[sessionID]
	delete(e.pending, sessionID)
	return slots
}

// tick sends parked offers. It returns false once the session is gone.
func (e *Engine) tick(ctx context.Context, sessionID string) bool {
	slots := e.takePending(sessionID)
	if len(slots) == 0 {
		_, err := e.registry.Get(sessionID)
		return !gone(err)
	}
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return !gone(err)
	}
	cfg := e.effective(s.Clipboard.Config)

	host, fromHost := slots[OriginHost]
	client, fromClient := slots[OriginClient]
	if fromHost && fromClient && cfg.Direction == domain.SyncBidirectional {
		winner := Resolve(cfg.ConflictPolicy, host, client)
		logging.Allowlist(e.logger, map[string]string{
			"event":      "clipboard_conflict_resolved",
			"session_id": sessionID,
			"reason":     string(cfg.ConflictPolicy),
			"scope":      string(winner),
		})
		if winner == OriginHost {
			fromClient = false
		} else {
			fromHost = false
		}
	}
	if fromHost {
		if _, err := e.Send(ctx, sessionID, OriginHost, host); gone(err) {
			return false
		}
	}
	if fromClient {
		if _, err := e.Send(ctx, sessionID, OriginClient, client); gone(err) {
			return false
		}
	}
	return true
}

// Resolve picks which side wins when both offered content in one tick.
// Ties under prefer_newest go to the client.
func Resolve(policy domain.ConflictPolicy, host, client domain.ClipboardContent) Origin {
	switch policy {
	case domain.PreferHost:
		return OriginHost
	case domain.PreferClient:
		return OriginClient
	}
	if host.Timestamp.After(client.Timestamp) {
		return OriginHost
	}
	return OriginClient
}

func gone(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionEnded)
}
