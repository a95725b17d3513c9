package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindTransient  ErrorKind = "transient"
	KindFatal      ErrorKind = "fatal"
)

// Error is the typed failure returned by every session-scoped operation.
// Code is a stable snake_case reason suitable for wire replies.
type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(code string) error {
	return &Error{Kind: KindValidation, Code: code}
}

func NotFound(code string) error {
	return &Error{Kind: KindNotFound, Code: code}
}

func Conflict(code string) error {
	return &Error{Kind: KindConflict, Code: code}
}

func Transient(code string, err error) error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

func Fatal(code string, err error) error {
	return &Error{Kind: KindFatal, Code: code, Err: err}
}

// KindOf reports the kind of err. Untyped errors are treated as fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindFatal
}

func CodeOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return "internal_error"
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrSessionNotFound     = NotFound("session_not_found")
	ErrNotParticipant      = NotFound("not_participant")
	ErrMonitorNotFound     = NotFound("monitor_not_found")
	ErrTransferNotFound    = NotFound("transfer_not_found")
	ErrIllegalTransition   = Conflict("illegal_transition")
	ErrMissingPermission   = Validation("missing_permission")
	ErrInvalidPIN          = Validation("invalid_pin")
	ErrSessionNotActive    = Conflict("session_not_active")
	ErrSessionEnded        = Conflict("session_ended")
	ErrTransferIDMismatch  = Conflict("transfer_id_mismatch")
	ErrInvalidClipboard    = Validation("invalid_clipboard_content")
	ErrUnsupportedFormat   = Validation("unsupported_clipboard_format")
	ErrInvalidQuality      = Validation("invalid_quality_settings")
	ErrNoControl           = Validation("control_not_held")
	ErrSyncDirectionClosed = Validation("sync_direction_disabled")
)
