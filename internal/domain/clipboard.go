package domain

import "time"

type ClipboardType string

const (
	ClipboardText     ClipboardType = "text"
	ClipboardHTML     ClipboardType = "html"
	ClipboardRichText ClipboardType = "rich_text"
	ClipboardImage    ClipboardType = "image"
	ClipboardFileList ClipboardType = "file_list"
)

var AllClipboardTypes = []ClipboardType{
	ClipboardText,
	ClipboardHTML,
	ClipboardRichText,
	ClipboardImage,
	ClipboardFileList,
}

type HTMLPayload struct {
	Markup    string `json:"markup"`
	PlainText string `json:"plain_text,omitempty"`
}

type RichTextPayload struct {
	RTF       string `json:"rtf"`
	PlainText string `json:"plain_text,omitempty"`
}

type ImagePayload struct {
	Data   []byte `json:"data"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ClipboardContent carries exactly one payload field, selected by Type. When
// IsCompressed is set the payload travels in CompressedData instead and the
// typed field is empty until the receiver decompresses it.
type ClipboardContent struct {
	Type           ClipboardType    `json:"type"`
	Text           string           `json:"text,omitempty"`
	HTML           *HTMLPayload     `json:"html,omitempty"`
	RichText       *RichTextPayload `json:"rich_text,omitempty"`
	Image          *ImagePayload    `json:"image,omitempty"`
	Files          []string         `json:"files,omitempty"`
	Size           int64            `json:"size"`
	IsTruncated    bool             `json:"is_truncated,omitempty"`
	IsCompressed   bool             `json:"is_compressed,omitempty"`
	Compression    string           `json:"compression,omitempty"`
	CompressedData []byte           `json:"compressed_data,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

func (c ClipboardContent) populated() int {
	count := 0
	if c.Text != "" {
		count++
	}
	if c.HTML != nil {
		count++
	}
	if c.RichText != nil {
		count++
	}
	if c.Image != nil {
		count++
	}
	if c.Files != nil {
		count++
	}
	return count
}

// Validate checks the payload invariant for uncompressed content: the field
// named by Type is present and non-empty and no other payload field is set.
func (c ClipboardContent) Validate() error {
	if c.populated() != 1 {
		return ErrInvalidClipboard
	}
	switch c.Type {
	case ClipboardText:
		if c.Text == "" {
			return ErrInvalidClipboard
		}
	case ClipboardHTML:
		if c.HTML == nil || c.HTML.Markup == "" {
			return ErrInvalidClipboard
		}
	case ClipboardRichText:
		if c.RichText == nil || c.RichText.RTF == "" {
			return ErrInvalidClipboard
		}
	case ClipboardImage:
		if c.Image == nil || len(c.Image.Data) == 0 {
			return ErrInvalidClipboard
		}
	case ClipboardFileList:
		if len(c.Files) == 0 {
			return ErrInvalidClipboard
		}
		for _, path := range c.Files {
			if path == "" {
				return ErrInvalidClipboard
			}
		}
	default:
		return ErrInvalidClipboard
	}
	return nil
}

// Clone deep-copies the payload so callers can hand content across goroutines.
func (c ClipboardContent) Clone() ClipboardContent {
	out := c
	if c.HTML != nil {
		html := *c.HTML
		out.HTML = &html
	}
	if c.RichText != nil {
		rich := *c.RichText
		out.RichText = &rich
	}
	if c.Image != nil {
		image := *c.Image
		image.Data = append([]byte(nil), c.Image.Data...)
		out.Image = &image
	}
	if c.Files != nil {
		out.Files = append([]string(nil), c.Files...)
	}
	if c.CompressedData != nil {
		out.CompressedData = append([]byte(nil), c.CompressedData...)
	}
	return out
}

type SyncDirection string

const (
	SyncNone          SyncDirection = "none"
	SyncHostToClient  SyncDirection = "host_to_client"
	SyncClientToHost  SyncDirection = "client_to_host"
	SyncBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case SyncNone, SyncHostToClient, SyncClientToHost, SyncBidirectional:
		return true
	}
	return false
}

// Allows reports whether content originating on the given side may flow.
func (d SyncDirection) Allows(fromHost bool) bool {
	switch d {
	case SyncBidirectional:
		return true
	case SyncHostToClient:
		return fromHost
	case SyncClientToHost:
		return !fromHost
	}
	return false
}

type ConflictPolicy string

const (
	PreferNewest ConflictPolicy = "prefer_newest"
	PreferHost   ConflictPolicy = "prefer_host"
	PreferClient ConflictPolicy = "prefer_client"
)

type ClipboardConfig struct {
	Direction       SyncDirection   `json:"direction"`
	Interval        time.Duration   `json:"interval"`
	MaxRetries      int             `json:"max_retries"`
	RetryDelay      time.Duration   `json:"retry_delay"`
	FallbackEnabled bool            `json:"fallback_enabled"`
	ConflictPolicy  ConflictPolicy  `json:"conflict_policy"`
	AutoSync        bool            `json:"auto_sync"`
	HostTypes       []ClipboardType `json:"host_types,omitempty"`
	ClientTypes     []ClipboardType `json:"client_types,omitempty"`
}

type ClipboardHistoryItem struct {
	Content  ClipboardContent `json:"content"`
	FromHost bool             `json:"from_host"`
	SyncedAt time.Time        `json:"synced_at"`
}

// ClipboardSyncState is the per-session clipboard bookkeeping. LastSent is
// keyed by direction so host->client and client->host dedup independently.
type ClipboardSyncState struct {
	Config       ClipboardConfig          `json:"config"`
	LastSent     map[SyncDirection]string `json:"-"`
	InFlight     map[SyncDirection]string `json:"-"`
	Attempts     int                      `json:"attempts"`
	Failures     int                      `json:"failures"`
	LastError    string                   `json:"last_error,omitempty"`
	LastSyncedAt time.Time                `json:"last_synced_at,omitempty"`
	History      []ClipboardHistoryItem   `json:"-"`
}

func (c ClipboardSyncState) clone() ClipboardSyncState {
	out := c
	out.Config.HostTypes = append([]ClipboardType(nil), c.Config.HostTypes...)
	out.Config.ClientTypes = append([]ClipboardType(nil), c.Config.ClientTypes...)
	out.LastSent = make(map[SyncDirection]string, len(c.LastSent))
	for k, v := range c.LastSent {
		out.LastSent[k] = v
	}
	out.InFlight = make(map[SyncDirection]string, len(c.InFlight))
	for k, v := range c.InFlight {
		out.InFlight[k] = v
	}
	out.History = make([]ClipboardHistoryItem, len(c.History))
	for i, item := range c.History {
		out.History[i] = ClipboardHistoryItem{Content: item.Content.Clone(), FromHost: item.FromHost, SyncedAt: item.SyncedAt}
	}
	return out
}
