package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"remotedesk/internal/clipboard"
	"remotedesk/internal/codec"
	"remotedesk/internal/domain"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/session"
)

const maxChatRunes = 4096

// Dispatch handles one inbound envelope and answers the sender with ack or
// error. The transport calls it from the connection's read loop, which is
// what keeps each sender's messages in order. A panic or fatal error in a
// handler fails the session.
func (r *Router) Dispatch(ctx context.Context, conn Conn, env codec.Envelope) (err error) {
	msgType := MessageType(env.Type)
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = conn.Identity().SessionID
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.Fatal("handler_panic", fmt.Errorf("%s: %v", msgType, rec))
			r.failSession(ctx, sessionID, err)
			r.reply(ctx, conn, env, sessionID, nil, err)
		}
	}()

	result, err := r.handle(ctx, conn, msgType, sessionID, env.Payload)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = domain.Transient("cancelled", err)
	}
	if err != nil && domain.KindOf(err) == domain.KindFatal {
		r.failSession(ctx, sessionID, err)
	}
	if err != nil {
		logging.Allowlist(r.logger, map[string]string{
			"event":         "dispatch_rejected",
			"session_id":    sessionID,
			"connection_id": conn.ID(),
			"type":          string(msgType),
			"error":         domain.CodeOf(err),
		})
	} else {
		r.metrics.IncMessagesRouted()
	}
	r.reply(ctx, conn, env, sessionID, result, err)
	return err
}

func (r *Router) handle(ctx context.Context, conn Conn, msgType MessageType, sessionID string, payload codec.Payload) (any, error) {
	if sessionID == "" && msgType != MsgRegisterHost && msgType != MsgReportHealth {
		return nil, domain.Validation("missing_session_id")
	}
	switch msgType {
	case MsgJoinSession:
		return r.joinSession(ctx, conn, sessionID)
	case MsgLeaveSession:
		return r.leaveSession(ctx, conn, sessionID)
	case MsgRequestControl:
		return r.requestControl(ctx, conn, sessionID)
	case MsgGrantControl:
		return r.grantControl(ctx, conn, sessionID, payload)
	case MsgRevokeControl:
		return r.revokeControl(ctx, conn, sessionID, payload)
	case MsgMouseInput, MsgKeyboardInput:
		return r.input(ctx, conn, msgType, sessionID, payload)
	case MsgScreenUpdate:
		return r.screenUpdate(ctx, conn, sessionID, payload)
	case MsgUpdateStatus:
		return r.updateStatus(ctx, conn, sessionID, payload)
	case MsgSyncClipboard:
		return r.syncClipboard(ctx, conn, sessionID, payload)
	case MsgRequestClipboard:
		return r.requestClipboard(ctx, conn, sessionID)
	case MsgClearClipboard:
		return r.clearClipboard(ctx, conn, sessionID, payload)
	case MsgConfigureClipboard:
		return r.configureClipboard(ctx, conn, sessionID, payload)
	case MsgSelectMonitor:
		return r.selectMonitor(ctx, conn, sessionID, payload)
	case MsgSetQuality:
		return r.setQuality(ctx, conn, sessionID, payload)
	case MsgChat:
		return r.chat(ctx, conn, sessionID, payload)
	case MsgCommandResult:
		return r.commandResult(ctx, conn, sessionID, payload)
	case MsgTransferStart:
		return r.transferStart(ctx, conn, sessionID, payload)
	case MsgTransferChunk:
		return r.transferChunk(ctx, conn, sessionID, payload)
	case MsgTransferPause, MsgTransferResume, MsgTransferCancel:
		return r.transferControl(ctx, conn, msgType, sessionID, payload)
	case MsgSessionStarted:
		return r.sessionStarted(ctx, conn, sessionID)
	case MsgSessionEnded, MsgSessionError:
		return r.sessionFinished(ctx, conn, msgType, sessionID, payload)
	case MsgRegisterHost:
		return r.registerHost(ctx, conn, payload)
	case MsgReportHealth:
		return r.reportHealth(conn, payload)
	case MsgMonitorsChanged:
		return r.monitorsChanged(ctx, conn, sessionID, payload)
	}
	return nil, domain.Validation("unknown_message_type")
}

func (r *Router) reply(ctx context.Context, conn Conn, env codec.Envelope, sessionID string, result any, err error) {
	msg := Message{ID: env.ID, SessionID: sessionID}
	if err != nil {
		kind := domain.KindOf(err)
		text := err.Error()
		if kind == domain.KindFatal {
			text = domain.CodeOf(err)
		}
		msg.Type = MsgError
		msg.Payload = ErrorPayload{Code: domain.CodeOf(err), Kind: string(kind), Message: text}
	} else {
		msg.Type = MsgAck
		msg.Payload = ackPayload{Type: MessageType(env.Type), Result: result}
	}
	r.deliver(ctx, []Conn{conn}, msg)
}

func (r *Router) failSession(ctx context.Context, sessionID string, cause error) {
	logging.Allowlist(r.logger, map[string]string{
		"event":      "dispatch_fatal",
		"session_id": sessionID,
		"error":      cause.Error(),
	})
	if sessionID == "" {
		return
	}
	if err := r.lifecycle.Fail(ctx, sessionID, session.ReasonInternalFail); err != nil {
		logging.Allowlist(r.logger, map[string]string{
			"event":      "session_fail_failed",
			"session_id": sessionID,
			"error":      domain.CodeOf(err),
		})
	}
}

// member resolves the participant acting on sessionID. Participants are
// bound to the session their token names; administrators may act anywhere.
func (r *Router) member(conn Conn, sessionID string) (string, error) {
	id := conn.Identity()
	switch id.Kind {
	case KindParticipant:
		if id.SessionID != sessionID || id.UserID == "" {
			return "", domain.ErrNotParticipant
		}
		return id.UserID, nil
	case KindAdmin:
		if id.UserID == "" {
			return "", domain.ErrNotParticipant
		}
		return id.UserID, nil
	}
	return "", domain.ErrMissingPermission
}

// owningHost checks that conn is the host the session is bound to.
func (r *Router) owningHost(conn Conn, sessionID string) (domain.Session, error) {
	id := conn.Identity()
	if id.Kind != KindHost {
		return domain.Session{}, domain.ErrMissingPermission
	}
	s, err := r.lifecycle.Get(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.HostID != id.HostID {
		return domain.Session{}, domain.ErrMissingPermission
	}
	return s, nil
}

// actor accepts either the owning host or a participant. The returned
// user id is empty for the host.
func (r *Router) actor(conn Conn, sessionID string) (string, bool, error) {
	if conn.Identity().Kind == KindHost {
		_, err := r.owningHost(conn, sessionID)
		return "", true, err
	}
	userID, err := r.member(conn, sessionID)
	return userID, false, err
}

// privileged accepts the owning host or an owner/admin participant.
func (r *Router) privileged(conn Conn, sessionID string) (string, error) {
	userID, host, err := r.actor(conn, sessionID)
	if err != nil || host {
		return userID, err
	}
	p, err := r.participants.Get(sessionID, userID)
	if err != nil {
		return "", err
	}
	if !p.Role.Privileged() {
		return "", domain.ErrMissingPermission
	}
	return userID, nil
}

func (r *Router) joinSession(ctx context.Context, conn Conn, sessionID string) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	role := conn.Identity().Role
	if conn.Identity().Kind == KindAdmin {
		role = domain.RoleAdmin
	}
	joined, err := r.participants.Join(sessionID, userID, conn.ID(), role)
	if err != nil {
		return nil, err
	}
	group := SessionGroup(sessionID)
	r.join(conn, group)
	r.Broadcast(ctx, group, Message{
		Type:      MsgUserJoined,
		SessionID: sessionID,
		Payload:   memberPayload{Participant: joined.Participant, Rejoined: joined.Rejoined},
	})
	return joined.Participant, nil
}

func (r *Router) leaveSession(ctx context.Context, conn Conn, sessionID string) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	left, err := r.participants.Leave(sessionID, userID)
	if err != nil {
		return nil, err
	}
	group := SessionGroup(sessionID)
	r.leave(conn, group)
	r.Broadcast(ctx, group, Message{
		Type:      MsgUserLeft,
		SessionID: sessionID,
		Payload:   memberPayload{Participant: left.Participant, ReleasedControl: left.ReleasedControl},
	})
	return left.Participant, nil
}

func (r *Router) requestControl(ctx context.Context, conn Conn, sessionID string) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	approvers, err := r.participants.RequestControl(sessionID, userID)
	if err != nil {
		return nil, err
	}
	ack := requestAck{Approvers: make([]string, 0, len(approvers))}
	for _, p := range approvers {
		ack.Approvers = append(ack.Approvers, p.UserID)
	}
	ack.Notified = r.BroadcastExcept(ctx, SessionGroup(sessionID), conn.ID(), Message{
		Type:      MsgControlRequested,
		SessionID: sessionID,
		Payload:   controlPayload{UserID: userID},
	})
	return ack, nil
}

func (r *Router) grantControl(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var target targetPayload
	if err := payload.Decode(&target); err != nil {
		return nil, err
	}
	granted, err := r.participants.GrantControl(sessionID, userID, target.UserID)
	if err != nil {
		return nil, err
	}
	if granted.Changed {
		r.Broadcast(ctx, SessionGroup(sessionID), Message{
			Type:      MsgControlGranted,
			SessionID: sessionID,
			Payload:   controlPayload{UserID: target.UserID, PreviousID: granted.Previous, By: userID},
		})
	}
	return granted.Target, nil
}

func (r *Router) revokeControl(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var target targetPayload
	if err := payload.Decode(&target); err != nil {
		return nil, err
	}
	revoked, err := r.participants.RevokeControl(sessionID, userID, target.UserID)
	if err != nil {
		return nil, err
	}
	if revoked {
		r.Broadcast(ctx, SessionGroup(sessionID), Message{
			Type:      MsgControlRevoked,
			SessionID: sessionID,
			Payload:   controlPayload{UserID: target.UserID, By: userID},
		})
	}
	return revokeAck{Revoked: revoked}, nil
}

// input accepts events from the control holder or the host, injects them
// through the provider when one is attached and echoes them to everyone
// else in the session.
func (r *Router) input(ctx context.Context, conn Conn, msgType MessageType, sessionID string, payload codec.Payload) (any, error) {
	var event domain.InputEvent
	if msgType == MsgMouseInput {
		var mouse domain.MouseInput
		if err := payload.Decode(&mouse); err != nil {
			return nil, err
		}
		event = domain.InputEvent{Kind: domain.InputMouse, Mouse: &mouse}
	} else {
		var keyboard domain.KeyboardInput
		if err := payload.Decode(&keyboard); err != nil {
			return nil, err
		}
		event = domain.InputEvent{Kind: domain.InputKeyboard, Keyboard: &keyboard}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	userID, host, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	if !host {
		holds, err := r.participants.HasControl(sessionID, userID)
		if err != nil {
			return nil, err
		}
		if !holds {
			return nil, domain.ErrNoControl
		}
	}
	s, err := r.lifecycle.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.SessionActive {
		return nil, domain.ErrSessionNotActive
	}

	translated, err := r.monitors.TranslateInput(sessionID, event)
	if err != nil {
		return nil, err
	}
	if r.provider != nil && !host {
		handle, err := r.provider.Session(sessionID)
		if err != nil {
			return nil, domain.Transient("provider_unavailable", err)
		}
		if err := handle.SendInput(ctx, translated); err != nil {
			return nil, domain.Transient("input_injection_failed", err)
		}
	}
	var out any = translated.Keyboard
	if translated.Kind == domain.InputMouse {
		out = translated.Mouse
	}
	r.BroadcastExcept(ctx, SessionGroup(sessionID), conn.ID(), Message{Type: msgType, SessionID: sessionID, Payload: out})
	return nil, nil
}

// screenUpdate relays a host frame to the session. An empty payload asks
// for a capture of the selected monitor through the provider.
func (r *Router) screenUpdate(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.owningHost(conn, sessionID); err != nil {
		return nil, err
	}
	var frame domain.ScreenFrame
	if payload.Empty() {
		captured, err := r.monitors.Capture(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		frame = captured
	} else if err := payload.Decode(&frame); err != nil {
		return nil, err
	}
	frame.SessionID = sessionID
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgScreenUpdate, SessionID: sessionID, Payload: frame})
	return nil, nil
}

func (r *Router) updateStatus(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.privileged(conn, sessionID); err != nil {
		return nil, err
	}
	var status statusPayload
	if err := payload.Decode(&status); err != nil {
		return nil, err
	}
	if strings.TrimSpace(status.Status) == "" {
		return nil, domain.Validation("missing_status")
	}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgSessionStatus, SessionID: sessionID, Payload: status})
	return nil, nil
}

// syncClipboard sends content to the other side. With auto-sync running
// the content is offered to the coalescing slot instead.
func (r *Router) syncClipboard(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	_, host, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var body clipboardPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	content, err := r.clipboard.Receive(body.Content)
	if err != nil {
		return nil, err
	}
	origin := clipboard.OriginClient
	if host {
		origin = clipboard.OriginHost
	}
	if r.clipboard.Running(sessionID) {
		if err := r.clipboard.Offer(sessionID, origin, content); err != nil {
			return nil, err
		}
		return clipboardAck{Queued: true}, nil
	}
	result, err := r.clipboard.Send(ctx, sessionID, origin, content)
	if err != nil {
		return nil, err
	}
	return clipboardAck{
		Transmitted:  result.Transmitted,
		Deduplicated: result.Deduplicated,
		FellBack:     result.FellBack,
		Attempts:     result.Attempts,
	}, nil
}

// requestClipboard asks the opposite side to send its current content.
func (r *Router) requestClipboard(ctx context.Context, conn Conn, sessionID string) (any, error) {
	userID, host, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	target := clipboard.AudienceHost
	if host {
		target = clipboard.AudienceClients
	}
	recipients := r.audience(sessionID, target)
	r.deliver(ctx, recipients, Message{
		Type:      MsgClipboardRequest,
		SessionID: sessionID,
		Payload:   targetPayload{UserID: userID},
	})
	return nil, nil
}

func (r *Router) clearClipboard(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, _, err := r.actor(conn, sessionID); err != nil {
		return nil, err
	}
	var body clipboardClearPayload
	if !payload.Empty() {
		if err := payload.Decode(&body); err != nil {
			return nil, err
		}
	}
	target := clipboard.Audience(body.Target)
	switch target {
	case "":
		target = clipboard.AudienceAll
	case clipboard.AudienceAll, clipboard.AudienceHost, clipboard.AudienceClients:
	default:
		return nil, domain.Validation("invalid_clipboard_target")
	}
	if err := r.clipboard.Clear(ctx, sessionID, target); err != nil {
		return nil, err
	}
	r.deliver(ctx, r.audience(sessionID, target), Message{
		Type:      MsgClipboardClear,
		SessionID: sessionID,
		Payload:   clipboardClearPayload{Target: string(target)},
	})
	return nil, nil
}

func (r *Router) configureClipboard(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.privileged(conn, sessionID); err != nil {
		return nil, err
	}
	var cfg domain.ClipboardConfig
	if err := payload.Decode(&cfg); err != nil {
		return nil, err
	}
	applied, err := r.clipboard.Configure(sessionID, cfg)
	if err != nil {
		return nil, err
	}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgClipboardConfigured, SessionID: sessionID, Payload: applied})
	return applied, nil
}

func (r *Router) selectMonitor(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, _, err := r.actor(conn, sessionID); err != nil {
		return nil, err
	}
	var body selectMonitorPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	return r.monitors.Select(ctx, sessionID, body.MonitorID)
}

func (r *Router) setQuality(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	userID, _, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var settings domain.QualitySettings
	if err := payload.Decode(&settings); err != nil {
		return nil, err
	}
	applied, changed, err := r.quality.Set(sessionID, userID, settings)
	if err != nil {
		return nil, err
	}
	if changed {
		r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgQualityChanged, SessionID: sessionID, Payload: qualityPayload{Quality: applied}})
	}
	return applied, nil
}

func (r *Router) chat(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	userID, host, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var body chatPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return nil, domain.Validation("empty_message")
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		return nil, domain.Validation("message_too_long")
	}
	if host {
		userID = conn.Identity().HostID
	}
	out := chatPayload{UserID: userID, Text: text, SentAt: r.clock.Now()}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgChat, SessionID: sessionID, Payload: out})
	return nil, nil
}

func (r *Router) commandResult(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.owningHost(conn, sessionID); err != nil {
		return nil, err
	}
	var body commandResultPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	if body.Command == "" {
		return nil, domain.Validation("missing_command")
	}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgCommandResult, SessionID: sessionID, Payload: body})
	return nil, nil
}

func (r *Router) transferStart(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	userID, err := r.member(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var req filetransfer.StartRequest
	if err := payload.Decode(&req); err != nil {
		return nil, err
	}
	req.UserID = userID
	transfer, err := r.transfers.Start(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgTransferStarted, SessionID: sessionID, Payload: transferStatusPayload{Transfer: transfer}})
	return transfer, nil
}

// transferChunk accepts upload chunks from participants and download
// chunks from the host, then reports progress to the session.
func (r *Router) transferChunk(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	_, host, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var body transferChunkPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	current, err := r.transfers.Get(sessionID, body.TransferID)
	if err != nil {
		return nil, err
	}
	if host != (current.Direction == domain.TransferDownload) {
		return nil, domain.ErrMissingPermission
	}
	transfer, err := r.transfers.AcceptChunk(ctx, sessionID, body.TransferID, conn.ID(), body.Chunk)
	if transfer.ID == "" {
		return nil, err
	}
	group := SessionGroup(sessionID)
	r.Broadcast(ctx, group, Message{
		Type:      MsgTransferProgress,
		SessionID: sessionID,
		Payload:   filetransfer.ProgressOf(transfer, r.clock.Now()),
	})
	if transfer.Status.Terminal() {
		r.Broadcast(ctx, group, Message{Type: MsgTransferStatus, SessionID: sessionID, Payload: transferStatusPayload{Transfer: transfer}})
	}
	if err != nil {
		return nil, err
	}
	return filetransfer.ProgressOf(transfer, r.clock.Now()), nil
}

func (r *Router) transferControl(ctx context.Context, conn Conn, msgType MessageType, sessionID string, payload codec.Payload) (any, error) {
	userID, _, err := r.actor(conn, sessionID)
	if err != nil {
		return nil, err
	}
	var body transferRefPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	var transfer domain.FileTransfer
	switch msgType {
	case MsgTransferPause:
		transfer, err = r.transfers.Pause(ctx, sessionID, body.TransferID, userID)
	case MsgTransferResume:
		transfer, err = r.transfers.Resume(ctx, sessionID, body.TransferID, userID)
	default:
		transfer, err = r.transfers.Cancel(ctx, sessionID, body.TransferID, userID)
	}
	if err != nil {
		return nil, err
	}
	out := transferStatusPayload{Transfer: transfer}
	if msgType == MsgTransferResume {
		if out.Missing, err = r.transfers.MissingChunks(sessionID, transfer.ID); err != nil {
			return nil, err
		}
	}
	r.Broadcast(ctx, SessionGroup(sessionID), Message{Type: MsgTransferStatus, SessionID: sessionID, Payload: out})
	return out, nil
}

// sessionStarted reactivates a disconnected session and seats the host in
// the session group. Repeats are no-ops.
func (r *Router) sessionStarted(ctx context.Context, conn Conn, sessionID string) (any, error) {
	s, err := r.owningHost(conn, sessionID)
	if err != nil {
		return nil, err
	}
	if err := r.lifecycle.HostStarted(ctx, sessionID); err != nil {
		return nil, err
	}
	r.join(conn, SessionGroup(sessionID))
	if info, ok := r.Host(s.HostID); ok && len(info.ClipboardTypes) > 0 {
		if err := r.clipboard.SetSupportedTypes(sessionID, clipboard.OriginHost, info.ClipboardTypes); err != nil {
			return nil, err
		}
	}
	if r.provider != nil {
		if _, err := r.monitors.Refresh(ctx, sessionID); err != nil {
			logging.Allowlist(r.logger, map[string]string{
				"event":      "monitor_refresh_failed",
				"session_id": sessionID,
				"error":      domain.CodeOf(err),
			})
		}
	}
	return nil, nil
}

// sessionFinished handles SessionEnded and SessionError from the host.
// Notifications for a session that is already over are no-ops.
func (r *Router) sessionFinished(ctx context.Context, conn Conn, msgType MessageType, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.owningHost(conn, sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionEnded) {
			return nil, nil
		}
		return nil, err
	}
	var body reasonPayload
	if !payload.Empty() {
		if err := payload.Decode(&body); err != nil {
			return nil, err
		}
	}
	if msgType == MsgSessionEnded {
		return nil, r.lifecycle.HostEnded(ctx, sessionID, body.Reason)
	}
	reason := body.Error
	if reason == "" {
		reason = body.Reason
	}
	return nil, r.lifecycle.HostError(ctx, sessionID, reason)
}

func (r *Router) registerHost(ctx context.Context, conn Conn, payload codec.Payload) (any, error) {
	id := conn.Identity()
	if id.Kind != KindHost {
		return nil, domain.ErrMissingPermission
	}
	var info domain.HostInfo
	if err := payload.Decode(&info); err != nil {
		return nil, err
	}
	if info.HostID == "" {
		info.HostID = id.HostID
	}
	if info.HostID != id.HostID {
		return nil, domain.ErrMissingPermission
	}
	r.mu.Lock()
	r.hosts[info.HostID] = info
	r.mu.Unlock()
	if len(info.ClipboardTypes) > 0 {
		for _, sessionID := range r.lifecycle.Registry().ForHost(info.HostID) {
			if err := r.clipboard.SetSupportedTypes(sessionID, clipboard.OriginHost, info.ClipboardTypes); err != nil && !errors.Is(err, domain.ErrSessionEnded) {
				return nil, err
			}
		}
	}
	logging.Allowlist(r.logger, map[string]string{
		"event":   "host_registered",
		"host_id": info.HostID,
		"version": info.Version,
	})
	r.Broadcast(ctx, AdministratorsGroup, Message{Type: MsgHostRegistered, Payload: info})
	return info, nil
}

func (r *Router) reportHealth(conn Conn, payload codec.Payload) (any, error) {
	id := conn.Identity()
	if id.Kind != KindHost {
		return nil, domain.ErrMissingPermission
	}
	var health domain.HostHealth
	if err := payload.Decode(&health); err != nil {
		return nil, err
	}
	if health.HostID == "" {
		health.HostID = id.HostID
	}
	if health.HostID != id.HostID {
		return nil, domain.ErrMissingPermission
	}
	return nil, r.health.Submit(health)
}

func (r *Router) monitorsChanged(ctx context.Context, conn Conn, sessionID string, payload codec.Payload) (any, error) {
	if _, err := r.owningHost(conn, sessionID); err != nil {
		return nil, err
	}
	var body monitorsPayload
	if err := payload.Decode(&body); err != nil {
		return nil, err
	}
	return r.monitors.Apply(ctx, sessionID, body.Monitors)
}
