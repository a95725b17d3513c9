// Package quality validates per-session stream quality settings and adapts
// them to host load reported through the health monitor.
package quality

import (
	"io"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

const (
	downgradeCPU  = 90.0
	downgradeLoss = 5.0
	upgradeCPU    = 50.0
	upgradeLoss   = 1.0

	qualityStepDown = 15
	qualityStepUp   = 10
	minAdaptQuality = 10
)

// Normalize clamps quality into [0,100] and scale above 1 down to 1. A
// non-positive or non-finite scale, an fps outside the allowed set and an unknown
// compression are rejected.
func Normalize(q domain.QualitySettings) (domain.QualitySettings, error) {
	q.Quality = min(max(q.Quality, 0), 100)
	if math.IsNaN(q.Scale) || math.IsInf(q.Scale, 0) || q.Scale <= 0 {
		return domain.QualitySettings{}, domain.ErrInvalidQuality
	}
	if q.Scale > 1 {
		q.Scale = 1
	}
	if fpsIndex(q.TargetFPS) < 0 {
		return domain.QualitySettings{}, domain.ErrInvalidQuality
	}
	if q.Compression == "" {
		q.Compression = domain.CompressionJPEG
	}
	if !q.Compression.Valid() {
		return domain.QualitySettings{}, domain.ErrInvalidQuality
	}
	return q, nil
}

type Options struct {
	Clock         clock.Clock
	Metrics       *metrics.Counters
	Logger        *log.Logger
	AdaptInterval time.Duration
}

type Controller struct {
	registry *session.Registry
	clock    clock.Clock
	metrics  *metrics.Counters
	logger   *log.Logger
	interval time.Duration

	mu         sync.Mutex
	lastAdjust map[string]time.Time
}

func New(registry *session.Registry, opts Options) *Controller {
	c := &Controller{
		registry:   registry,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		interval:   opts.AdaptInterval,
		lastAdjust: map[string]time.Time{},
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NewCounters()
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Second
	}
	return c
}

func (c *Controller) Get(sessionID string) (domain.QualitySettings, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return domain.QualitySettings{}, err
	}
	return s.Quality, nil
}

// Set stores normalized settings. callerID must hold control or a
// privileged role; an empty callerID is the host itself.
func (c *Controller) Set(sessionID, callerID string, q domain.QualitySettings) (domain.QualitySettings, bool, error) {
	normalized, err := Normalize(q)
	if err != nil {
		return domain.QualitySettings{}, false, err
	}
	var changed bool
	err = c.registry.With(sessionID, func(s *domain.Session) error {
		if callerID != "" {
			p, ok := s.Participants[callerID]
			if !ok {
				return domain.ErrNotParticipant
			}
			if !p.HasControl && !p.Role.Privileged() {
				return domain.ErrMissingPermission
			}
		}
		changed = s.Quality != normalized
		s.Quality = normalized
		return nil
	})
	if err != nil {
		return domain.QualitySettings{}, false, err
	}
	return normalized, changed, nil
}

// Adapt steps quality down under host CPU pressure or packet loss and back
// up toward the defaults once the host is idle, at most once per interval.
func (c *Controller) Adapt(sessionID string, health domain.HostHealth, stats domain.SessionStatistics) (domain.QualitySettings, bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	last, seen := c.lastAdjust[sessionID]
	c.mu.Unlock()
	if seen && now.Sub(last) < c.interval {
		q, err := c.Get(sessionID)
		return q, false, err
	}

	var (
		result    domain.QualitySettings
		changed   bool
		direction string
	)
	err := c.registry.With(sessionID, func(s *domain.Session) error {
		current := s.Quality
		next := current
		switch {
		case health.CPUUsage > downgradeCPU || stats.PacketLoss > downgradeLoss:
			next = downgrade(current)
			direction = "downgrade"
		case health.CPUUsage < upgradeCPU && stats.PacketLoss < upgradeLoss:
			next = upgrade(current)
			direction = "upgrade"
		}
		changed = next != current
		s.Quality = next
		result = next
		return nil
	})
	if err != nil {
		return domain.QualitySettings{}, false, err
	}
	if changed {
		c.mu.Lock()
		c.lastAdjust[sessionID] = now
		c.mu.Unlock()
		c.metrics.IncQualityAdjustments()
		logging.Allowlist(c.logger, map[string]string{
			"event":      "quality_adjusted",
			"session_id": sessionID,
			"reason":     direction,
			"count":      strconv.Itoa(result.Quality),
		})
	}
	return result, changed, nil
}

func (c *Controller) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.lastAdjust, sessionID)
	c.mu.Unlock()
}

func downgrade(q domain.QualitySettings) domain.QualitySettings {
	if q.Quality > minAdaptQuality {
		q.Quality = max(q.Quality-qualityStepDown, minAdaptQuality)
	}
	if i := fpsIndex(q.TargetFPS); i > 0 {
		q.TargetFPS = domain.AllowedFPS[i-1]
	}
	return q
}

// upgrade never raises a setting already at or above the default.
func upgrade(q domain.QualitySettings) domain.QualitySettings {
	ceiling := domain.DefaultQuality()
	if q.Quality < ceiling.Quality {
		q.Quality = min(q.Quality+qualityStepUp, ceiling.Quality)
	}
	if i := fpsIndex(q.TargetFPS); i >= 0 && q.TargetFPS < ceiling.TargetFPS {
		q.TargetFPS = domain.AllowedFPS[i+1]
	}
	return q
}

func fpsIndex(fps int) int {
	for i, allowed := range domain.AllowedFPS {
		if allowed == fps {
			return i
		}
	}
	return -1
}
