package router

import (
	"time"

	"remotedesk/internal/domain"
)

type MessageType string

// Inbound message types.
const (
	MsgJoinSession        MessageType = "join_session"
	MsgLeaveSession       MessageType = "leave_session"
	MsgRequestControl     MessageType = "request_control"
	MsgGrantControl       MessageType = "grant_control"
	MsgRevokeControl      MessageType = "revoke_control"
	MsgMouseInput         MessageType = "mouse_input"
	MsgKeyboardInput      MessageType = "keyboard_input"
	MsgScreenUpdate       MessageType = "screen_update"
	MsgUpdateStatus       MessageType = "update_session_status"
	MsgSyncClipboard      MessageType = "sync_clipboard"
	MsgRequestClipboard   MessageType = "request_clipboard"
	MsgClearClipboard     MessageType = "clear_clipboard"
	MsgConfigureClipboard MessageType = "configure_clipboard"
	MsgSelectMonitor      MessageType = "select_monitor"
	MsgSetQuality         MessageType = "set_quality"
	MsgChat               MessageType = "chat_message"
	MsgCommandResult      MessageType = "command_result"
	MsgTransferStart      MessageType = "transfer_start"
	MsgTransferChunk      MessageType = "transfer_chunk"
	MsgTransferPause      MessageType = "transfer_pause"
	MsgTransferResume     MessageType = "transfer_resume"
	MsgTransferCancel     MessageType = "transfer_cancel"
	MsgSessionStarted     MessageType = "session_started"
	MsgSessionEnded       MessageType = "session_ended"
	MsgSessionError       MessageType = "session_error"
	MsgRegisterHost       MessageType = "register_host"
	MsgReportHealth       MessageType = "report_health"
	MsgMonitorsChanged    MessageType = "monitors_changed"
)

// Outbound message types. Input, screen, chat and command results reuse
// their inbound names.
const (
	MsgAck                  MessageType = "ack"
	MsgError                MessageType = "error"
	MsgUserJoined           MessageType = "user_joined"
	MsgUserLeft             MessageType = "user_left"
	MsgControlRequested     MessageType = "control_requested"
	MsgControlGranted       MessageType = "control_granted"
	MsgControlRevoked       MessageType = "control_revoked"
	MsgSessionStatus        MessageType = "session_status"
	MsgClipboardData        MessageType = "clipboard_sync"
	MsgClipboardRequest     MessageType = "clipboard_request"
	MsgClipboardClear       MessageType = "clipboard_clear"
	MsgClipboardConfigured  MessageType = "clipboard_configured"
	MsgMonitorConfiguration MessageType = "monitor_configuration_changed"
	MsgQualityChanged       MessageType = "quality_changed"
	MsgTransferStarted      MessageType = "transfer_started"
	MsgTransferData         MessageType = "transfer_data"
	MsgTransferStatus       MessageType = "transfer_status"
	MsgTransferProgress     MessageType = "transfer_progress"
	MsgHostRegistered       MessageType = "host_registered"
	MsgHostHealth           MessageType = "host_health"
)

// Message is one outbound frame.
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ackPayload struct {
	Type   MessageType `json:"type"`
	Result any         `json:"result,omitempty"`
}

type reasonPayload struct {
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

type targetPayload struct {
	UserID string `json:"user_id"`
}

type statusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type memberPayload struct {
	Participant     domain.Participant `json:"participant"`
	Rejoined        bool               `json:"rejoined,omitempty"`
	ReleasedControl bool               `json:"released_control,omitempty"`
}

type controlPayload struct {
	UserID     string `json:"user_id"`
	PreviousID string `json:"previous_id,omitempty"`
	By         string `json:"by,omitempty"`
}

type clipboardPayload struct {
	Content domain.ClipboardContent `json:"content"`
}

type clipboardClearPayload struct {
	Target string `json:"target,omitempty"`
}

type clipboardAck struct {
	Transmitted  bool `json:"transmitted"`
	Deduplicated bool `json:"deduplicated"`
	FellBack     bool `json:"fell_back"`
	Queued       bool `json:"queued,omitempty"`
	Attempts     int  `json:"attempts"`
}

type clipboardData struct {
	Origin  string                  `json:"origin"`
	Content domain.ClipboardContent `json:"content"`
}

type selectMonitorPayload struct {
	MonitorID string `json:"monitor_id"`
}

type monitorsPayload struct {
	Monitors []domain.MonitorInfo `json:"monitors"`
}

type monitorChangePayload struct {
	PreviousID string                `json:"previous_id,omitempty"`
	SelectedID string                `json:"selected_id,omitempty"`
	Desktop    domain.VirtualDesktop `json:"virtual_desktop"`
	FellBack   bool                  `json:"fell_back,omitempty"`
	Switched   bool                  `json:"switched,omitempty"`
}

type chatPayload struct {
	UserID string    `json:"user_id,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

type commandResultPayload struct {
	Command  string `json:"command"`
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code"`
}

type transferRefPayload struct {
	TransferID string `json:"transfer_id"`
}

type transferDataPayload struct {
	Direction domain.TransferDirection `json:"direction"`
	Chunk     domain.FileChunk         `json:"chunk"`
}

type transferStatusPayload struct {
	Transfer domain.FileTransfer `json:"transfer"`
	Missing  []int               `json:"missing,omitempty"`
}

type qualityPayload struct {
	Quality domain.QualitySettings `json:"quality"`
	Adapted bool                   `json:"adapted,omitempty"`
}

type transferChunkPayload struct {
	TransferID string           `json:"transfer_id"`
	Chunk      domain.FileChunk `json:"chunk"`
}

type requestAck struct {
	Approvers []string `json:"approvers"`
	Notified  int      `json:"notified"`
}

type revokeAck struct {
	Revoked bool `json:"revoked"`
}
