package provider

import (
	"context"
	"math"
	"sync"
	"time"

	"remotedesk/internal/domain"
)

// Stub is an in-process provider with a fixed monitor layout. It records
// injected input and produces blank frames of the requested physical size.
type Stub struct {
	mu       sync.Mutex
	monitors []domain.MonitorInfo
	handles  map[string]*StubHandle
}

func NewStub(monitors []domain.MonitorInfo) *Stub {
	if len(monitors) == 0 {
		monitors = []domain.MonitorInfo{{
			ID:          "primary",
			Name:        "Primary",
			IsPrimary:   true,
			Bounds:      domain.Rect{Width: 1920, Height: 1080},
			WorkArea:    domain.Rect{Width: 1920, Height: 1040},
			ScaleFactor: domain.DefaultScaleFactor,
			RefreshRate: domain.DefaultRefreshRate,
			BitDepth:    domain.DefaultBitDepth,
			Orientation: domain.OrientationLandscape,
		}}
	}
	return &Stub{monitors: monitors, handles: map[string]*StubHandle{}}
}

func (s *Stub) Initialize(context.Context) (bool, error) {
	return true, nil
}

func (s *Stub) Session(sessionID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[sessionID]
	if !ok {
		h = &StubHandle{sessionID: sessionID, owner: s}
		s.handles[sessionID] = h
	}
	return h, nil
}

// SetMonitors replaces the layout, simulating a hot-plug.
func (s *Stub) SetMonitors(monitors []domain.MonitorInfo) {
	s.mu.Lock()
	s.monitors = append([]domain.MonitorInfo(nil), monitors...)
	s.mu.Unlock()
}

func (s *Stub) layout() []domain.MonitorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MonitorInfo(nil), s.monitors...)
}

type StubHandle struct {
	sessionID string
	owner     *Stub

	mu     sync.Mutex
	inputs []domain.InputEvent
	frames int64
	bytes  int64
	closed bool
}

func (h *StubHandle) CaptureScreen(_ context.Context, monitor domain.MonitorInfo) (domain.ScreenFrame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ScreenFrame{}, ErrUnavailable
	}
	scale := monitor.ScaleFactor
	if scale <= 0 {
		scale = domain.DefaultScaleFactor
	}
	width := int(math.Floor(float64(monitor.Bounds.Width)*scale + 0.5))
	height := int(math.Floor(float64(monitor.Bounds.Height)*scale + 0.5))
	h.frames++
	frame := domain.ScreenFrame{
		SessionID:  h.sessionID,
		MonitorID:  monitor.ID,
		Width:      width,
		Height:     height,
		Format:     "raw",
		Sequence:   h.frames,
		CapturedAt: time.Now().UTC(),
	}
	return frame, nil
}

func (h *StubHandle) EnumerateMonitors(context.Context) ([]domain.MonitorInfo, error) {
	return h.owner.layout(), nil
}

func (h *StubHandle) MonitorAtPoint(_ context.Context, x, y int) (domain.MonitorInfo, bool, error) {
	for _, m := range h.owner.layout() {
		if m.Bounds.Contains(x, y) {
			return m, true, nil
		}
	}
	return domain.MonitorInfo{}, false, nil
}

func (h *StubHandle) SendInput(_ context.Context, event domain.InputEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrUnavailable
	}
	h.inputs = append(h.inputs, event)
	return nil
}

func (h *StubHandle) Statistics(context.Context) (domain.SessionStatistics, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.SessionStatistics{
		SessionID:      h.sessionID,
		FramesCaptured: h.frames,
		FramesSent:     h.frames,
		BytesSent:      h.bytes,
	}, nil
}

func (h *StubHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Inputs returns the events injected so far.
func (h *StubHandle) Inputs() []domain.InputEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.InputEvent(nil), h.inputs...)
}
