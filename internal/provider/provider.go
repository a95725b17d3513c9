// Package provider defines the host-side capture and input collaborator.
// The orchestrator owns one Provider and obtains a Handle per session
// rather than sharing a global capture object.
package provider

import (
	"context"
	"errors"

	"remotedesk/internal/domain"
)

var ErrUnavailable = errors.New("provider unavailable")

type Provider interface {
	Initialize(ctx context.Context) (bool, error)
	Session(sessionID string) (Handle, error)
}

type Handle interface {
	CaptureScreen(ctx context.Context, monitor domain.MonitorInfo) (domain.ScreenFrame, error)
	EnumerateMonitors(ctx context.Context) ([]domain.MonitorInfo, error)
	MonitorAtPoint(ctx context.Context, x, y int) (domain.MonitorInfo, bool, error)
	SendInput(ctx context.Context, event domain.InputEvent) error
	Statistics(ctx context.Context) (domain.SessionStatistics, error)
	Close() error
}
