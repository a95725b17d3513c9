// Package clipboard synchronizes clipboard content between a session's host
// and its remote participants. Sends are validated, clamped, deduplicated
// per direction by content fingerprint, compressed above a threshold and
// retried on transient delivery failures.
package clipboard

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/retry"
	"remotedesk/internal/session"
)

type Origin string

const (
	OriginHost   Origin = "host"
	OriginClient Origin = "client"
)

func (o Origin) Valid() bool {
	return o == OriginHost || o == OriginClient
}

func (o Origin) direction() domain.SyncDirection {
	if o == OriginHost {
		return domain.SyncHostToClient
	}
	return domain.SyncClientToHost
}

// Audience selects which side of a session receives a delivery.
type Audience string

const (
	AudienceAll     Audience = "all"
	AudienceHost    Audience = "host"
	AudienceClients Audience = "clients"
)

type Delivery struct {
	SessionID string
	Origin    Origin
	Audience  Audience
	Content   domain.ClipboardContent
}

// Transmitter performs the network send. Transient errors are retried.
type Transmitter interface {
	TransmitClipboard(ctx context.Context, delivery Delivery) error
}

type Options struct {
	Clock             clock.Clock
	Transmitter       Transmitter
	Metrics           *metrics.Counters
	Logger            *log.Logger
	MaxBytes          int64
	CompressThreshold int64
	HistoryLimit      int
	// Defaults fills zero fields of a session's clipboard config.
	Defaults domain.ClipboardConfig
}

type Engine struct {
	registry    *session.Registry
	clock       clock.Clock
	transmitter Transmitter
	metrics     *metrics.Counters
	logger      *log.Logger
	maxBytes    int64
	threshold   int64
	history     int
	defaults    domain.ClipboardConfig

	mu      sync.Mutex
	loops   map[string]*loop
	pending map[string]map[Origin]domain.ClipboardContent
	wg      sync.WaitGroup
}

func New(registry *session.Registry, opts Options) *Engine {
	e := &Engine{
		registry:    registry,
		clock:       opts.Clock,
		transmitter: opts.Transmitter,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		maxBytes:    opts.MaxBytes,
		threshold:   opts.CompressThreshold,
		history:     opts.HistoryLimit,
		defaults:    opts.Defaults,
		loops:       map[string]*loop{},
		pending:     map[string]map[Origin]domain.ClipboardContent{},
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCounters()
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.history <= 0 {
		e.history = 100
	}
	if e.defaults.Direction == "" {
		e.defaults.Direction = domain.SyncBidirectional
	}
	if e.defaults.Interval <= 0 {
		e.defaults.Interval = time.Second
	}
	if e.defaults.ConflictPolicy == "" {
		e.defaults.ConflictPolicy = domain.PreferNewest
	}
	return e
}

// SetTransmitter wires the router after construction.
func (e *Engine) SetTransmitter(t Transmitter) {
	e.transmitter = t
}

type Result struct {
	Content      domain.ClipboardContent
	Transmitted  bool
	Deduplicated bool
	FellBack     bool
	Attempts     int
}

// Send pushes content from one side of the session to the other. Invalid
// content is rejected before any network call. Identical content already
// sent in the same direction reports success without a transmission.
func (e *Engine) Send(ctx context.Context, sessionID string, origin Origin, content domain.ClipboardContent) (Result, error) {
	if !origin.Valid() {
		return Result{}, domain.ErrInvalidClipboard
	}
	if err := content.Validate(); err != nil {
		return Result{}, err
	}
	if content.Type == domain.ClipboardImage && content.Image.Format == "" {
		content = content.Clone()
		content.Image.Format = DetectImageFormat(content.Image.Data)
	}
	if content.Timestamp.IsZero() {
		content.Timestamp = e.clock.Now()
	}
	content = Truncate(content, e.maxBytes)

	dir := origin.direction()
	var (
		result      Result
		fingerprint string
		cfg         domain.ClipboardConfig
	)
	err := e.registry.With(sessionID, func(s *domain.Session) error {
		if s.Status != domain.SessionActive {
			return domain.ErrSessionNotActive
		}
		cfg = e.effective(s.Clipboard.Config)
		if !cfg.Direction.Allows(origin == OriginHost) {
			return domain.ErrSyncDirectionClosed
		}
		remote := cfg.HostTypes
		if origin == OriginHost {
			remote = cfg.ClientTypes
		}
		if !supports(remote, content.Type) && !cfg.FallbackEnabled {
			return domain.ErrUnsupportedFormat
		}
		converted, fellBack, err := Fallback(content, remote)
		if err != nil {
			return err
		}
		content = converted
		result.FellBack = fellBack

		fingerprint = Fingerprint(content)
		state := &s.Clipboard
		if state.LastSent == nil {
			state.LastSent = map[domain.SyncDirection]string{}
		}
		if state.InFlight == nil {
			state.InFlight = map[domain.SyncDirection]string{}
		}
		if state.LastSent[dir] == fingerprint || state.InFlight[dir] == fingerprint {
			result.Deduplicated = true
			return nil
		}
		state.InFlight[dir] = fingerprint
		state.Attempts++
		return nil
	})
	if err != nil {
		e.logFailure(sessionID, "clipboard_rejected", err)
		return Result{}, err
	}
	result.Content = content
	if result.Deduplicated {
		e.metrics.IncClipboardDeduplicated()
		return result, nil
	}

	delivery := Delivery{
		SessionID: sessionID,
		Origin:    origin,
		Audience:  audienceFor(cfg.Direction, origin),
		Content:   Compress(content, e.threshold),
	}
	policy := retry.Policy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay, Clock: e.clock}
	outcome := policy.Do(ctx, func(ctx context.Context) error {
		if e.transmitter == nil {
			return domain.Transient("clipboard_transport_unavailable", nil)
		}
		return e.transmitter.TransmitClipboard(ctx, delivery)
	})
	result.Attempts = outcome.Attempts

	now := e.clock.Now()
	_ = e.registry.With(sessionID, func(s *domain.Session) error {
		state := &s.Clipboard
		if state.InFlight[dir] == fingerprint {
			delete(state.InFlight, dir)
		}
		if outcome.Err != nil {
			state.Failures++
			state.LastError = domain.CodeOf(outcome.Err)
			return nil
		}
		state.LastSent[dir] = fingerprint
		state.LastSyncedAt = now
		state.LastError = ""
		item := domain.ClipboardHistoryItem{Content: content, FromHost: origin == OriginHost, SyncedAt: now}
		state.History = append([]domain.ClipboardHistoryItem{item}, state.History...)
		if len(state.History) > e.history {
			state.History = state.History[:e.history]
		}
		return nil
	})

	if outcome.Err != nil {
		e.metrics.IncClipboardFailures()
		e.logFailure(sessionID, "clipboard_send_failed", outcome.Err)
		if outcome.Exhausted() {
			return result, domain.Transient("clipboard_send_failed", outcome.Err)
		}
		return result, outcome.Err
	}
	e.metrics.IncClipboardTransmissions()
	result.Transmitted = true
	return result, nil
}

// Receive turns wire content back into its typed form.
func (e *Engine) Receive(content domain.ClipboardContent) (domain.ClipboardContent, error) {
	out, err := Decompress(content, e.maxBytes)
	if err != nil {
		return domain.ClipboardContent{}, err
	}
	if err := out.Validate(); err != nil {
		return domain.ClipboardContent{}, err
	}
	return out, nil
}

// Configure replaces the session's sync settings and starts or stops the
// auto-sync loop to match.
func (e *Engine) Configure(sessionID string, cfg domain.ClipboardConfig) (domain.ClipboardConfig, error) {
	if cfg.Direction == "" {
		cfg.Direction = e.defaults.Direction
	}
	if !cfg.Direction.Valid() {
		return domain.ClipboardConfig{}, domain.Validation("invalid_sync_direction")
	}
	switch cfg.ConflictPolicy {
	case "":
		cfg.ConflictPolicy = e.defaults.ConflictPolicy
	case domain.PreferNewest, domain.PreferHost, domain.PreferClient:
	default:
		return domain.ClipboardConfig{}, domain.Validation("invalid_conflict_policy")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = e.defaults.Interval
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		cfg.MaxRetries = e.defaults.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = e.defaults.RetryDelay
	}
	for _, types := range [][]domain.ClipboardType{cfg.HostTypes, cfg.ClientTypes} {
		for _, t := range types {
			if !validType(t) {
				return domain.ClipboardConfig{}, domain.ErrUnsupportedFormat
			}
		}
	}
	err := e.registry.With(sessionID, func(s *domain.Session) error {
		s.Clipboard.Config = cfg
		return nil
	})
	if err != nil {
		return domain.ClipboardConfig{}, err
	}
	e.StopAutoSync(sessionID)
	if cfg.AutoSync && cfg.Direction != domain.SyncNone {
		e.StartAutoSync(sessionID)
	}
	return cfg, nil
}

// SetSupportedTypes records what one side can accept.
func (e *Engine) SetSupportedTypes(sessionID string, side Origin, types []domain.ClipboardType) error {
	if !side.Valid() {
		return domain.ErrInvalidClipboard
	}
	for _, t := range types {
		if !validType(t) {
			return domain.ErrUnsupportedFormat
		}
	}
	types = append([]domain.ClipboardType(nil), types...)
	return e.registry.With(sessionID, func(s *domain.Session) error {
		if side == OriginHost {
			s.Clipboard.Config.HostTypes = types
		} else {
			s.Clipboard.Config.ClientTypes = types
		}
		return nil
	})
}

// History returns up to max items, newest first.
func (e *Engine) History(sessionID string, max int) ([]domain.ClipboardHistoryItem, error) {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	items := s.Clipboard.History
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

// Clear forgets what was last sent so the next copy of identical content
// is transmitted again, and tells the targeted side to empty its clipboard.
func (e *Engine) Clear(ctx context.Context, sessionID string, target Audience) error {
	err := e.registry.With(sessionID, func(s *domain.Session) error {
		s.Clipboard.LastSent = map[domain.SyncDirection]string{}
		return nil
	})
	if err != nil {
		return err
	}
	e.dropPending(sessionID)
	logging.Allowlist(e.logger, map[string]string{
		"event":      "clipboard_cleared",
		"session_id": sessionID,
		"scope":      string(target),
	})
	return nil
}

func (e *Engine) effective(cfg domain.ClipboardConfig) domain.ClipboardConfig {
	if cfg.Direction == "" {
		cfg.Direction = e.defaults.Direction
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = e.defaults.ConflictPolicy
	}
	if cfg.Interval <= 0 {
		cfg.Interval = e.defaults.Interval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = e.defaults.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = e.defaults.RetryDelay
	}
	return cfg
}

func (e *Engine) logFailure(sessionID, event string, err error) {
	logging.Allowlist(e.logger, map[string]string{
		"event":      event,
		"session_id": sessionID,
		"error":      domain.CodeOf(err),
		"reason":     string(domain.KindOf(err)),
	})
}

// audienceFor routes bidirectional sync to the whole group and one-sided
// sync only to the receiving side.
func audienceFor(direction domain.SyncDirection, origin Origin) Audience {
	if direction == domain.SyncBidirectional {
		return AudienceAll
	}
	if origin == OriginHost {
		return AudienceClients
	}
	return AudienceHost
}

func validType(t domain.ClipboardType) bool {
	for _, known := range domain.AllClipboardTypes {
		if known == t {
			return true
		}
	}
	return false
}
