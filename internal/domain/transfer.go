package domain

import "time"

const (
	DefaultChunkSize = 64 << 10
	MaxChunkSize     = 4 << 20
	// MaxTotalChunks bounds the per-transfer chunk bitmap.
	MaxTotalChunks = 1 << 20
)

type TransferDirection string

const (
	TransferUpload   TransferDirection = "upload"
	TransferDownload TransferDirection = "download"
)

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferPaused     TransferStatus = "paused"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferCancelled
}

type FileTransfer struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	Direction      TransferDirection `json:"direction"`
	FileName       string            `json:"file_name"`
	TotalSize      int64             `json:"total_size"`
	ChunkSize      int64             `json:"chunk_size"`
	TotalChunks    int               `json:"total_chunks"`
	ChunksReceived int               `json:"chunks_received"`
	BytesReceived  int64             `json:"bytes_received"`
	Status         TransferStatus    `json:"status"`
	Checksum       string            `json:"checksum,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	StartTime      time.Time         `json:"start_time"`
	CompletedTime  time.Time         `json:"completed_time,omitempty"`
	Received       []bool            `json:"-"`
}

// ChunkLength is the exact byte length chunk index must carry.
func (t *FileTransfer) ChunkLength(index int) int64 {
	if index < 0 || index >= t.TotalChunks {
		return 0
	}
	if index == t.TotalChunks-1 {
		if rem := t.TotalSize - int64(index)*t.ChunkSize; rem > 0 {
			return rem
		}
	}
	return t.ChunkSize
}

func (t *FileTransfer) Missing() []int {
	missing := make([]int, 0, t.TotalChunks-t.ChunksReceived)
	for i, seen := range t.Received {
		if !seen {
			missing = append(missing, i)
		}
	}
	return missing
}

func (t *FileTransfer) Clone() FileTransfer {
	out := *t
	out.Received = append([]bool(nil), t.Received...)
	return out
}

type FileChunk struct {
	TransferID string `json:"transfer_id"`
	Index      int    `json:"index"`
	Data       []byte `json:"data"`
}

type TransferProgress struct {
	TransferID     string         `json:"transfer_id"`
	Status         TransferStatus `json:"status"`
	Percent        int            `json:"percent"`
	BytesReceived  int64          `json:"bytes_received"`
	TotalSize      int64          `json:"total_size"`
	ChunksReceived int            `json:"chunks_received"`
	TotalChunks    int            `json:"total_chunks"`
	// SpeedBps and RemainingSeconds are meaningful only when EstimateKnown.
	SpeedBps         float64 `json:"speed_bps"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	EstimateKnown    bool    `json:"estimate_known"`
}
