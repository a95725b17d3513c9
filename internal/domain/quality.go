package domain

import "time"

type CompressionType string

const (
	CompressionJPEG CompressionType = "jpeg"
	CompressionPNG  CompressionType = "png"
	CompressionWebP CompressionType = "webp"
	CompressionH264 CompressionType = "h264"
)

func (c CompressionType) Valid() bool {
	switch c {
	case CompressionJPEG, CompressionPNG, CompressionWebP, CompressionH264:
		return true
	}
	return false
}

// AllowedFPS is ordered ascending; adaptive quality steps through it.
var AllowedFPS = []int{5, 10, 15, 24, 30, 60}

type QualitySettings struct {
	Quality     int             `json:"quality"`
	TargetFPS   int             `json:"target_fps"`
	Scale       float64         `json:"scale"`
	Compression CompressionType `json:"compression"`
}

func DefaultQuality() QualitySettings {
	return QualitySettings{
		Quality:     75,
		TargetFPS:   30,
		Scale:       1.0,
		Compression: CompressionJPEG,
	}
}

type HostHealth struct {
	HostID           string        `json:"host_id"`
	IsHealthy        bool          `json:"is_healthy"`
	CPUUsage         float64       `json:"cpu_usage"`
	MemoryUsage      float64       `json:"memory_usage"`
	DiskUsage        float64       `json:"disk_usage"`
	NetworkLatencyMs float64       `json:"network_latency_ms"`
	ActiveSessions   int           `json:"active_sessions"`
	Uptime           time.Duration `json:"uptime"`
	LastReportTime   time.Time     `json:"last_report_time"`
	Alerts           []string      `json:"alerts,omitempty"`
}

type SessionStatistics struct {
	SessionID      string  `json:"session_id"`
	FramesCaptured int64   `json:"frames_captured"`
	FramesSent     int64   `json:"frames_sent"`
	BytesSent      int64   `json:"bytes_sent"`
	AverageFPS     float64 `json:"average_fps"`
	LatencyMs      float64 `json:"latency_ms"`
	PacketLoss     float64 `json:"packet_loss"`
}

type HostInfo struct {
	HostID         string          `json:"host_id"`
	MachineName    string          `json:"machine_name"`
	OS             string          `json:"os"`
	Version        string          `json:"version"`
	ClipboardTypes []ClipboardType `json:"clipboard_types,omitempty"`
}
