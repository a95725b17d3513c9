package sweeper

import (
	"context"
	"log"
	"strconv"
	"time"

	"remotedesk/internal/clock"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/ratelimit"
	"remotedesk/internal/session"
)

// Sweeper enforces time-based state that no request would otherwise touch:
// absolute session timeouts, PIN expiry, tombstones, idle limiter windows
// and staged chunks of forgotten transfers.
type Sweeper struct {
	lifecycle *session.Lifecycle
	transfers *filetransfer.Manager
	limiters  []*ratelimit.Limiter
	clock     clock.Clock
	interval  time.Duration
	logger    *log.Logger
	liveness  *Liveness
	metrics   *metrics.Counters
}

type Options struct {
	Lifecycle *session.Lifecycle
	Transfers *filetransfer.Manager
	Limiters  []*ratelimit.Limiter
	Clock     clock.Clock
	Interval  time.Duration
	Logger    *log.Logger
	Liveness  *Liveness
	Metrics   *metrics.Counters
}

func New(opts Options) *Sweeper {
	s := &Sweeper{
		lifecycle: opts.Lifecycle,
		transfers: opts.Transfers,
		limiters:  opts.Limiters,
		clock:     opts.Clock,
		interval:  opts.Interval,
		logger:    opts.Logger,
		liveness:  opts.Liveness,
		metrics:   opts.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	return s.sweep(ctx)
}

type Report struct {
	TimedOut   int
	PINs       int
	Tombstones int
	Limiters   int
	Chunks     int
}

func (r Report) Total() int {
	return r.TimedOut + r.PINs + r.Tombstones + r.Limiters + r.Chunks
}

func (r Report) plus(o Report) Report {
	return Report{
		TimedOut:   r.TimedOut + o.TimedOut,
		PINs:       r.PINs + o.PINs,
		Tombstones: r.Tombstones + o.Tombstones,
		Limiters:   r.Limiters + o.Limiters,
		Chunks:     r.Chunks + o.Chunks,
	}
}

func (s *Sweeper) sweep(ctx context.Context) Report {
	if s.metrics != nil {
		s.metrics.IncSweeperRuns()
	}
	var report Report
	if s.lifecycle != nil {
		report.TimedOut = s.lifecycle.SweepTimeouts()
		report.PINs = s.lifecycle.ExpirePINs()
		report.Tombstones = s.lifecycle.Registry().SweepTombstones()
	}
	for _, limiter := range s.limiters {
		report.Limiters += limiter.Sweep()
	}
	if s.transfers != nil {
		staged, err := s.transfers.Sweep(ctx)
		if err != nil {
			logging.Allowlist(s.logger, map[string]string{
				"event": "sweep_error",
				"error": "storage_error",
			})
			return report
		}
		report.Chunks = staged.Total()
	}
	if s.liveness != nil {
		s.liveness.Mark(s.clock.Now(), report)
	}
	if total := report.Total(); total > 0 {
		logging.Allowlist(s.logger, map[string]string{
			"event": "sweep_complete",
			"count": strconv.Itoa(total),
		})
	}
	return report
}
