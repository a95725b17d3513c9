// Package monitor tracks each session's monitor layout and selection and
// translates coordinates between monitor-local and global space.
package monitor

import (
	"context"
	"io"
	"log"

	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/provider"
	"remotedesk/internal/session"
)

// Change describes a layout or selection change for notification.
type Change struct {
	SessionID  string
	PreviousID string
	SelectedID string
	Desktop    domain.VirtualDesktop
	// FellBack is set when the selected monitor vanished and the primary
	// was selected in its place.
	FellBack bool
	// Switched is set for an explicit selection.
	Switched bool
}

type Notifier interface {
	MonitorsChanged(ctx context.Context, change Change)
}

type Coordinator struct {
	registry *session.Registry
	provider provider.Provider
	notifier Notifier
	logger   *log.Logger
}

func New(registry *session.Registry, p provider.Provider, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{registry: registry, provider: p, logger: logger}
}

func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// Refresh enumerates monitors from the provider and applies them.
func (c *Coordinator) Refresh(ctx context.Context, sessionID string) (domain.VirtualDesktop, error) {
	handle, err := c.handle(sessionID)
	if err != nil {
		return domain.VirtualDesktop{}, err
	}
	monitors, err := handle.EnumerateMonitors(ctx)
	if err != nil {
		return domain.VirtualDesktop{}, domain.Transient("monitor_enumeration_failed", err)
	}
	return c.Apply(ctx, sessionID, monitors)
}

// Apply replaces the session's monitor layout, for example from a host
// report. An empty selection defaults to the primary without notification;
// a selection that disappeared falls back to the primary with one.
func (c *Coordinator) Apply(ctx context.Context, sessionID string, monitors []domain.MonitorInfo) (domain.VirtualDesktop, error) {
	normalized := Normalize(monitors)
	desktop := VirtualDesktopOf(normalized)
	var change Change
	var notify bool
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		previous := s.Monitors.SelectedID
		changed := !sameLayout(s.Monitors.Monitors, normalized)
		s.Monitors.Monitors = normalized
		s.Monitors.Desktop = desktop
		if _, ok := s.Monitors.Find(previous); !ok {
			s.Monitors.SelectedID = primaryID(desktop)
		}
		notify = previous != "" && changed
		change = Change{
			SessionID:  s.ID,
			PreviousID: previous,
			SelectedID: s.Monitors.SelectedID,
			Desktop:    desktop,
			FellBack:   previous != "" && previous != s.Monitors.SelectedID,
		}
		return nil
	})
	if err != nil {
		return domain.VirtualDesktop{}, err
	}
	if change.FellBack {
		logging.Allowlist(c.logger, map[string]string{
			"event":      "monitor_fallback",
			"session_id": sessionID,
			"reason":     "selected_monitor_removed",
		})
	}
	if notify {
		c.notify(ctx, change)
	}
	return desktop, nil
}

// VirtualDesktop returns the stored layout, enumerating it on first use.
func (c *Coordinator) VirtualDesktop(ctx context.Context, sessionID string) (domain.VirtualDesktop, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return domain.VirtualDesktop{}, err
	}
	if len(s.Monitors.Monitors) == 0 && c.provider != nil {
		return c.Refresh(ctx, sessionID)
	}
	return s.Monitors.Desktop, nil
}

func (c *Coordinator) Select(ctx context.Context, sessionID, monitorID string) (domain.MonitorInfo, error) {
	var selected domain.MonitorInfo
	var change Change
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		m, ok := s.Monitors.Find(monitorID)
		if !ok {
			return domain.ErrMonitorNotFound
		}
		change = Change{
			SessionID:  s.ID,
			PreviousID: s.Monitors.SelectedID,
			SelectedID: m.ID,
			Desktop:    s.Monitors.Desktop,
			Switched:   true,
		}
		s.Monitors.SelectedID = m.ID
		selected = m
		return nil
	})
	if err != nil {
		return domain.MonitorInfo{}, err
	}
	if change.PreviousID != change.SelectedID {
		c.notify(ctx, change)
	}
	return selected, nil
}

// Selected returns the selected monitor; ok is false when the session has
// no monitors.
func (c *Coordinator) Selected(sessionID string) (domain.MonitorInfo, bool, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return domain.MonitorInfo{}, false, err
	}
	m, ok := s.Monitors.Find(s.Monitors.SelectedID)
	return m, ok, nil
}

// MonitorAtPoint maps a global point to a monitor. A point outside every
// monitor yields ok == false, not an error.
func (c *Coordinator) MonitorAtPoint(ctx context.Context, sessionID string, x, y int) (domain.MonitorInfo, bool, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return domain.MonitorInfo{}, false, err
	}
	if len(s.Monitors.Monitors) > 0 || c.provider == nil {
		m, ok := AtPoint(s.Monitors.Monitors, x, y)
		return m, ok, nil
	}
	handle, err := c.handle(sessionID)
	if err != nil {
		return domain.MonitorInfo{}, false, err
	}
	return handle.MonitorAtPoint(ctx, x, y)
}

// CaptureBounds is the selected monitor's origin with its physical size.
func (c *Coordinator) CaptureBounds(sessionID string) (domain.Rect, error) {
	m, ok, err := c.Selected(sessionID)
	if err != nil {
		return domain.Rect{}, err
	}
	if !ok {
		return domain.Rect{}, domain.ErrMonitorNotFound
	}
	width, height := PhysicalSize(m)
	return domain.Rect{X: m.Bounds.X, Y: m.Bounds.Y, Width: width, Height: height}, nil
}

// Capture grabs a frame of the selected monitor at its physical size.
func (c *Coordinator) Capture(ctx context.Context, sessionID string) (domain.ScreenFrame, error) {
	m, ok, err := c.Selected(sessionID)
	if err != nil {
		return domain.ScreenFrame{}, err
	}
	if !ok {
		return domain.ScreenFrame{}, domain.ErrMonitorNotFound
	}
	handle, err := c.handle(sessionID)
	if err != nil {
		return domain.ScreenFrame{}, err
	}
	frame, err := handle.CaptureScreen(ctx, m)
	if err != nil {
		return domain.ScreenFrame{}, domain.Transient("capture_failed", err)
	}
	width, height := PhysicalSize(m)
	if frame.Width != width || frame.Height != height {
		return domain.ScreenFrame{}, domain.Transient("capture_size_mismatch", nil)
	}
	frame.SessionID = sessionID
	frame.MonitorID = m.ID
	return frame, nil
}

// TranslateInput rewrites a mouse event from monitor-local to global
// coordinates. The event's MonitorID wins over the session selection.
// Keyboard events pass through.
func (c *Coordinator) TranslateInput(sessionID string, event domain.InputEvent) (domain.InputEvent, error) {
	if event.Kind != domain.InputMouse || event.Mouse == nil {
		return event, nil
	}
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return domain.InputEvent{}, err
	}
	id := event.Mouse.MonitorID
	if id == "" {
		id = s.Monitors.SelectedID
	}
	if id == "" && len(s.Monitors.Monitors) == 0 {
		return event, nil
	}
	m, ok := s.Monitors.Find(id)
	if !ok {
		return domain.InputEvent{}, domain.ErrMonitorNotFound
	}
	mouse := *event.Mouse
	mouse.X, mouse.Y = ToGlobal(m, mouse.X, mouse.Y)
	mouse.MonitorID = m.ID
	event.Mouse = &mouse
	return event, nil
}

func (c *Coordinator) handle(sessionID string) (provider.Handle, error) {
	if c.provider == nil {
		return nil, domain.Transient("provider_unavailable", provider.ErrUnavailable)
	}
	h, err := c.provider.Session(sessionID)
	if err != nil {
		return nil, domain.Transient("provider_unavailable", err)
	}
	return h, nil
}

func (c *Coordinator) notify(ctx context.Context, change Change) {
	if c.notifier != nil {
		c.notifier.MonitorsChanged(ctx, change)
	}
}

func primaryID(desktop domain.VirtualDesktop) string {
	if desktop.PrimaryIndex == domain.NoPrimary {
		return ""
	}
	return desktop.Monitors[desktop.PrimaryIndex].ID
}

func sameLayout(a, b []domain.MonitorInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
