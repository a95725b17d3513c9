package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/provider"
	"remotedesk/internal/session"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recordingNotifier) MonitorsChanged(_ context.Context, change Change) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func dualLayout() []domain.MonitorInfo {
	return []domain.MonitorInfo{
		{ID: "left", Bounds: domain.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}},
		{ID: "right", Bounds: domain.Rect{X: 1920, Y: 0, Width: 2560, Height: 1440}, ScaleFactor: 1.5},
	}
}

func setup(t *testing.T, layout []domain.MonitorInfo) (*Coordinator, *provider.Stub, *recordingNotifier, string) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	registry := session.NewRegistry(clk, 8*time.Hour, time.Minute)
	s, err := registry.Create(session.CreateSpec{HostID: "host-1", CreatedBy: "owner", Type: domain.SessionTypeRemoteControl})
	require.NoError(t, err)
	stub := provider.NewStub(layout)
	notifier := &recordingNotifier{}
	coord := New(registry, stub, nil)
	coord.SetNotifier(notifier)
	return coord, stub, notifier, s.ID
}

func TestVirtualDesktopBoundingBox(t *testing.T) {
	desktop := VirtualDesktopOf(Normalize(dualLayout()))
	assert.Equal(t, domain.Rect{X: 0, Y: 0, Width: 4480, Height: 1440}, desktop.Bounds)
	assert.Equal(t, 0, desktop.PrimaryIndex)
	assert.Len(t, desktop.Monitors, 2)
}

func TestVirtualDesktopNegativeOrigin(t *testing.T) {
	desktop := VirtualDesktopOf(Normalize([]domain.MonitorInfo{
		{ID: "a", Bounds: domain.Rect{X: -1280, Y: -200, Width: 1280, Height: 1024}},
		{ID: "b", IsPrimary: true, Bounds: domain.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}},
	}))
	assert.Equal(t, domain.Rect{X: -1280, Y: -200, Width: 3200, Height: 1280}, desktop.Bounds)
	assert.Equal(t, 1, desktop.PrimaryIndex)
}

func TestVirtualDesktopEmpty(t *testing.T) {
	desktop := VirtualDesktopOf(nil)
	assert.Equal(t, domain.NoPrimary, desktop.PrimaryIndex)
	assert.Equal(t, domain.Rect{}, desktop.Bounds)
}

func TestNormalizeDefaults(t *testing.T) {
	out := Normalize([]domain.MonitorInfo{{Bounds: domain.Rect{Width: 800, Height: 600}}})
	require.Len(t, out, 1)
	assert.Equal(t, "monitor-0", out[0].ID)
	assert.Equal(t, 1.0, out[0].ScaleFactor)
	assert.Equal(t, 60, out[0].RefreshRate)
	assert.Equal(t, 32, out[0].BitDepth)
	assert.Equal(t, domain.OrientationLandscape, out[0].Orientation)
	assert.Equal(t, out[0].Bounds, out[0].WorkArea)
}

func TestCoordinateRoundTrip(t *testing.T) {
	m := domain.MonitorInfo{Bounds: domain.Rect{X: 1920, Y: -300, Width: 2560, Height: 1440}}
	for _, p := range [][2]int{{0, 0}, {10, 20}, {2559, 1439}} {
		gx, gy := ToGlobal(m, p[0], p[1])
		lx, ly := ToLocal(m, gx, gy)
		assert.Equal(t, p, [2]int{lx, ly})
	}
}

func TestPhysicalSizeRoundsHalfUp(t *testing.T) {
	w, h := PhysicalSize(domain.MonitorInfo{Bounds: domain.Rect{Width: 1365, Height: 767}, ScaleFactor: 1.5})
	assert.Equal(t, 2048, w)
	assert.Equal(t, 1151, h)

	w, h = PhysicalSize(domain.MonitorInfo{Bounds: domain.Rect{Width: 1920, Height: 1080}})
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestRefreshSelectsPrimaryWithoutNotification(t *testing.T) {
	coord, _, notifier, id := setup(t, dualLayout())

	desktop, err := coord.Refresh(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 4480, desktop.Bounds.Width)

	m, ok, err := coord.Selected(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "left", m.ID)
	assert.Empty(t, notifier.all())
}

func TestSelectUnknownMonitor(t *testing.T) {
	coord, _, _, id := setup(t, dualLayout())
	_, err := coord.Refresh(context.Background(), id)
	require.NoError(t, err)

	_, err = coord.Select(context.Background(), id, "missing")
	assert.ErrorIs(t, err, domain.ErrMonitorNotFound)

	m, _, err := coord.Selected(id)
	require.NoError(t, err)
	assert.Equal(t, "left", m.ID)
}

func TestSelectNotifiesSwitch(t *testing.T) {
	coord, _, notifier, id := setup(t, dualLayout())
	_, err := coord.Refresh(context.Background(), id)
	require.NoError(t, err)

	m, err := coord.Select(context.Background(), id, "right")
	require.NoError(t, err)
	assert.Equal(t, "right", m.ID)

	changes := notifier.all()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Switched)
	assert.Equal(t, "left", changes[0].PreviousID)
	assert.Equal(t, "right", changes[0].SelectedID)

	_, err = coord.Select(context.Background(), id, "right")
	require.NoError(t, err)
	assert.Len(t, notifier.all(), 1)
}

func TestSelectedMonitorRemovedFallsBackToPrimary(t *testing.T) {
	coord, stub, notifier, id := setup(t, dualLayout())
	ctx := context.Background()
	_, err := coord.Refresh(ctx, id)
	require.NoError(t, err)
	_, err = coord.Select(ctx, id, "right")
	require.NoError(t, err)

	stub.SetMonitors(dualLayout()[:1])
	desktop, err := coord.Refresh(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Rect{Width: 1920, Height: 1080}, desktop.Bounds)

	m, ok, err := coord.Selected(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "left", m.ID)

	changes := notifier.all()
	require.Len(t, changes, 2)
	assert.True(t, changes[1].FellBack)
	assert.Equal(t, "right", changes[1].PreviousID)
	assert.Equal(t, "left", changes[1].SelectedID)
}

func TestApplyUnchangedLayoutIsQuiet(t *testing.T) {
	coord, _, notifier, id := setup(t, dualLayout())
	ctx := context.Background()
	_, err := coord.Apply(ctx, id, dualLayout())
	require.NoError(t, err)
	_, err = coord.Apply(ctx, id, dualLayout())
	require.NoError(t, err)
	assert.Empty(t, notifier.all())
}

func TestMonitorAtPoint(t *testing.T) {
	coord, _, _, id := setup(t, dualLayout())
	ctx := context.Background()
	_, err := coord.Refresh(ctx, id)
	require.NoError(t, err)

	m, ok, err := coord.MonitorAtPoint(ctx, id, 1920, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "right", m.ID)

	m, ok, err = coord.MonitorAtPoint(ctx, id, 1919, 1079)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "left", m.ID)

	_, ok, err = coord.MonitorAtPoint(ctx, id, 100, 1200)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaptureUsesPhysicalSize(t *testing.T) {
	coord, _, _, id := setup(t, dualLayout())
	ctx := context.Background()
	_, err := coord.Refresh(ctx, id)
	require.NoError(t, err)
	_, err = coord.Select(ctx, id, "right")
	require.NoError(t, err)

	frame, err := coord.Capture(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3840, frame.Width)
	assert.Equal(t, 2160, frame.Height)
	assert.Equal(t, "right", frame.MonitorID)
}

func TestTranslateInput(t *testing.T) {
	coord, _, _, id := setup(t, dualLayout())
	_, err := coord.Refresh(context.Background(), id)
	require.NoError(t, err)

	event := domain.InputEvent{Kind: domain.InputMouse, Mouse: &domain.MouseInput{X: 5, Y: 7, Action: domain.MouseMove, MonitorID: "right"}}
	out, err := coord.TranslateInput(id, event)
	require.NoError(t, err)
	assert.Equal(t, 1925, out.Mouse.X)
	assert.Equal(t, 7, out.Mouse.Y)
	assert.Equal(t, 5, event.Mouse.X, "input event must not be mutated")

	event.Mouse.MonitorID = "gone"
	_, err = coord.TranslateInput(id, event)
	assert.ErrorIs(t, err, domain.ErrMonitorNotFound)

	key := domain.InputEvent{Kind: domain.InputKeyboard, Keyboard: &domain.KeyboardInput{KeyCode: 65, Action: domain.KeyPress}}
	out, err = coord.TranslateInput(id, key)
	require.NoError(t, err)
	assert.Equal(t, key, out)
}

func TestUnknownSession(t *testing.T) {
	coord, _, _, _ := setup(t, dualLayout())
	_, err := coord.Refresh(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCaptureBoundsWithoutMonitors(t *testing.T) {
	coord, _, _, id := setup(t, dualLayout())
	_, err := coord.CaptureBounds(id)
	assert.ErrorIs(t, err, domain.ErrMonitorNotFound)

	_, err = coord.Refresh(context.Background(), id)
	require.NoError(t, err)
	bounds, err := coord.CaptureBounds(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Rect{Width: 1920, Height: 1080}, bounds)
}
