package domain

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Right() int {
	return r.X + r.Width
}

func (r Rect) Bottom() int {
	return r.Y + r.Height
}

// Contains uses half-open bounds: the right and bottom edges belong to the
// neighbouring monitor.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.Right() && y >= r.Y && y < r.Bottom()
}

type Orientation string

const (
	OrientationLandscape        Orientation = "landscape"
	OrientationPortrait         Orientation = "portrait"
	OrientationLandscapeFlipped Orientation = "landscape_flipped"
	OrientationPortraitFlipped  Orientation = "portrait_flipped"
)

const (
	DefaultScaleFactor = 1.0
	DefaultRefreshRate = 60
	DefaultBitDepth    = 32
)

type MonitorInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Index       int         `json:"index"`
	IsPrimary   bool        `json:"is_primary"`
	Bounds      Rect        `json:"bounds"`
	WorkArea    Rect        `json:"work_area"`
	ScaleFactor float64     `json:"scale_factor"`
	RefreshRate int         `json:"refresh_rate"`
	BitDepth    int         `json:"bit_depth"`
	Orientation Orientation `json:"orientation"`
}

// NoPrimary marks a virtual desktop with no monitors.
const NoPrimary = -1

type VirtualDesktop struct {
	Bounds       Rect          `json:"bounds"`
	Monitors     []MonitorInfo `json:"monitors"`
	PrimaryIndex int           `json:"primary_index"`
}

type MonitorState struct {
	Monitors   []MonitorInfo  `json:"monitors"`
	Desktop    VirtualDesktop `json:"virtual_desktop"`
	SelectedID string         `json:"selected_id,omitempty"`
}

func (m MonitorState) Find(id string) (MonitorInfo, bool) {
	for _, monitor := range m.Monitors {
		if monitor.ID == id {
			return monitor, true
		}
	}
	return MonitorInfo{}, false
}

func (m MonitorState) clone() MonitorState {
	out := m
	out.Monitors = append([]MonitorInfo(nil), m.Monitors...)
	out.Desktop.Monitors = append([]MonitorInfo(nil), m.Desktop.Monitors...)
	return out
}
