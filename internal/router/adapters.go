package router

import (
	"context"

	"remotedesk/internal/clipboard"
	"remotedesk/internal/domain"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/monitor"
	"remotedesk/internal/session"
)

// PublishStatus fans a lifecycle change out to the session, its host and
// the administrators. A terminal change dissolves the session group.
func (r *Router) PublishStatus(ctx context.Context, change session.StatusChange) {
	recipients := r.members(SessionGroup(change.SessionID), HostGroup(change.HostID), AdministratorsGroup)
	r.deliver(ctx, recipients, Message{Type: MsgSessionStatus, SessionID: change.SessionID, Payload: change})
	if change.To.Terminal() {
		r.dropGroup(SessionGroup(change.SessionID))
	}
}

func (r *Router) MonitorsChanged(ctx context.Context, change monitor.Change) {
	r.Broadcast(ctx, SessionGroup(change.SessionID), Message{
		Type:      MsgMonitorConfiguration,
		SessionID: change.SessionID,
		Payload: monitorChangePayload{
			PreviousID: change.PreviousID,
			SelectedID: change.SelectedID,
			Desktop:    change.Desktop,
			FellBack:   change.FellBack,
			Switched:   change.Switched,
		},
	})
}

// TransmitClipboard delivers clipboard content to the audience the sync
// direction selected. Nobody listening is not a failure; every listener
// failing is, so the engine retries.
func (r *Router) TransmitClipboard(ctx context.Context, delivery clipboard.Delivery) error {
	recipients := r.audience(delivery.SessionID, delivery.Audience)
	if len(recipients) == 0 {
		return nil
	}
	delivered := r.deliver(ctx, recipients, Message{
		Type:      MsgClipboardData,
		SessionID: delivery.SessionID,
		Payload:   clipboardData{Origin: string(delivery.Origin), Content: delivery.Content},
	})
	if delivered == 0 {
		return domain.Transient("clipboard_delivery_failed", nil)
	}
	return nil
}

// RelayChunk forwards an accepted chunk to the receiving side: uploads go
// to the host, downloads to the participants. A chunk with no receiver is
// retryable so it stays missing until someone can take it.
func (r *Router) RelayChunk(ctx context.Context, relayed filetransfer.Relayed) error {
	target := clipboard.AudienceHost
	if relayed.Direction == domain.TransferDownload {
		target = clipboard.AudienceClients
	}
	var recipients []Conn
	for _, conn := range r.audience(relayed.SessionID, target) {
		if conn.ID() != relayed.SenderID {
			recipients = append(recipients, conn)
		}
	}
	if len(recipients) == 0 {
		return domain.Transient("relay_unavailable", nil)
	}
	delivered := r.deliver(ctx, recipients, Message{
		Type:      MsgTransferData,
		SessionID: relayed.SessionID,
		Payload:   transferDataPayload{Direction: relayed.Direction, Chunk: relayed.Chunk},
	})
	if delivered == 0 {
		return domain.Transient("relay_failed", nil)
	}
	return nil
}

// HandleHealth is the health monitor's report handler. It forwards the
// report to administrators and adapts the quality of the host's sessions.
func (r *Router) HandleHealth(ctx context.Context, health domain.HostHealth) {
	r.Broadcast(ctx, AdministratorsGroup, Message{Type: MsgHostHealth, Payload: health})
	for _, sessionID := range r.lifecycle.Registry().ForHost(health.HostID) {
		stats := r.statistics(ctx, sessionID)
		applied, changed, err := r.quality.Adapt(sessionID, health, stats)
		if err != nil {
			logging.Allowlist(r.logger, map[string]string{
				"event":      "quality_adapt_failed",
				"session_id": sessionID,
				"host_id":    health.HostID,
				"error":      domain.CodeOf(err),
			})
			continue
		}
		if changed {
			r.Broadcast(ctx, SessionGroup(sessionID), Message{
				Type:      MsgQualityChanged,
				SessionID: sessionID,
				Payload:   qualityPayload{Quality: applied, Adapted: true},
			})
		}
	}
}

func (r *Router) statistics(ctx context.Context, sessionID string) domain.SessionStatistics {
	stats := domain.SessionStatistics{SessionID: sessionID}
	if r.provider == nil {
		return stats
	}
	handle, err := r.provider.Session(sessionID)
	if err != nil {
		return stats
	}
	if got, err := handle.Statistics(ctx); err == nil {
		stats = got
	}
	return stats
}

// audience filters a session group down to one side.
func (r *Router) audience(sessionID string, target clipboard.Audience) []Conn {
	members := r.members(SessionGroup(sessionID))
	if target == clipboard.AudienceAll || target == "" {
		return members
	}
	var out []Conn
	for _, conn := range members {
		isHost := conn.Identity().Kind == KindHost
		if isHost == (target == clipboard.AudienceHost) {
			out = append(out, conn)
		}
	}
	return out
}
