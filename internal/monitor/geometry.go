package monitor

import (
	"fmt"
	"math"

	"remotedesk/internal/domain"
)

// Normalize fills defaults and assigns indices by position. Monitors without
// an id get a positional one.
func Normalize(monitors []domain.MonitorInfo) []domain.MonitorInfo {
	out := make([]domain.MonitorInfo, len(monitors))
	for i, m := range monitors {
		m.Index = i
		if m.ID == "" {
			m.ID = fmt.Sprintf("monitor-%d", i)
		}
		if m.ScaleFactor <= 0 {
			m.ScaleFactor = domain.DefaultScaleFactor
		}
		if m.RefreshRate <= 0 {
			m.RefreshRate = domain.DefaultRefreshRate
		}
		if m.BitDepth <= 0 {
			m.BitDepth = domain.DefaultBitDepth
		}
		if m.Orientation == "" {
			m.Orientation = domain.OrientationLandscape
		}
		if m.WorkArea.Width <= 0 || m.WorkArea.Height <= 0 {
			m.WorkArea = m.Bounds
		}
		out[i] = m
	}
	return out
}

// VirtualDesktopOf returns the bounding box of all monitors. The primary is
// the first monitor flagged primary, else the first monitor, else none.
func VirtualDesktopOf(monitors []domain.MonitorInfo) domain.VirtualDesktop {
	desktop := domain.VirtualDesktop{
		Monitors:     append([]domain.MonitorInfo(nil), monitors...),
		PrimaryIndex: domain.NoPrimary,
	}
	if len(monitors) == 0 {
		return desktop
	}
	minX, minY := monitors[0].Bounds.X, monitors[0].Bounds.Y
	maxX, maxY := monitors[0].Bounds.Right(), monitors[0].Bounds.Bottom()
	for _, m := range monitors[1:] {
		minX = min(minX, m.Bounds.X)
		minY = min(minY, m.Bounds.Y)
		maxX = max(maxX, m.Bounds.Right())
		maxY = max(maxY, m.Bounds.Bottom())
	}
	desktop.Bounds = domain.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	desktop.PrimaryIndex = 0
	for i, m := range monitors {
		if m.IsPrimary {
			desktop.PrimaryIndex = i
			break
		}
	}
	return desktop
}

// AtPoint finds the monitor containing the global point (x, y).
func AtPoint(monitors []domain.MonitorInfo, x, y int) (domain.MonitorInfo, bool) {
	for _, m := range monitors {
		if m.Bounds.Contains(x, y) {
			return m, true
		}
	}
	return domain.MonitorInfo{}, false
}

func ToGlobal(m domain.MonitorInfo, x, y int) (int, int) {
	return m.Bounds.X + x, m.Bounds.Y + y
}

func ToLocal(m domain.MonitorInfo, x, y int) (int, int) {
	return x - m.Bounds.X, y - m.Bounds.Y
}

// PhysicalSize is the pixel size of a capture, logical bounds times scale
// rounded half up.
func PhysicalSize(m domain.MonitorInfo) (int, int) {
	scale := m.ScaleFactor
	if scale <= 0 {
		scale = domain.DefaultScaleFactor
	}
	return roundHalfUp(float64(m.Bounds.Width) * scale), roundHalfUp(float64(m.Bounds.Height) * scale)
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
