package quality

import (
	"context"
	"io"
	"log"
	"math"
	"sync"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
)

const defaultHealthBuffer = 64

type Handler func(ctx context.Context, health domain.HostHealth)

type MonitorOptions struct {
	Clock   clock.Clock
	Metrics *metrics.Counters
	Logger  *log.Logger
	Buffer  int
}

// HealthMonitor keeps the latest report per host. Reports are queued by
// Submit and applied by Run, which also fans them out to handlers.
type HealthMonitor struct {
	clock   clock.Clock
	metrics *metrics.Counters
	logger  *log.Logger
	reports chan domain.HostHealth

	mu       sync.RWMutex
	latest   map[string]domain.HostHealth
	handlers []Handler
}

func NewHealthMonitor(opts MonitorOptions) *HealthMonitor {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCounters()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultHealthBuffer
	}
	return &HealthMonitor{
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		reports: make(chan domain.HostHealth, opts.Buffer),
		latest:  map[string]domain.HostHealth{},
	}
}

func (m *HealthMonitor) OnReport(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Submit queues a report without blocking. A full queue is a transient
// failure the reporting host may retry.
func (m *HealthMonitor) Submit(health domain.HostHealth) error {
	if health.HostID == "" {
		return domain.Validation("invalid_health_report")
	}
	for _, v := range []float64{health.CPUUsage, health.MemoryUsage, health.DiskUsage, health.NetworkLatencyMs} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Validation("invalid_health_report")
		}
	}
	select {
	case m.reports <- health:
		return nil
	default:
		logging.Allowlist(m.logger, map[string]string{
			"event":   "health_report_dropped",
			"host_id": health.HostID,
		})
		return domain.Transient("health_queue_full", nil)
	}
}

// Run drains submitted reports until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case health := <-m.reports:
			m.apply(ctx, health)
		}
	}
}

func (m *HealthMonitor) apply(ctx context.Context, health domain.HostHealth) {
	if health.LastReportTime.IsZero() {
		health.LastReportTime = m.clock.Now()
	}
	health.Alerts = append([]string(nil), health.Alerts...)
	m.mu.Lock()
	m.latest[health.HostID] = health
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	m.metrics.IncHealthReports()
	for _, h := range handlers {
		h(ctx, health)
	}
}

func (m *HealthMonitor) Latest(hostID string) (domain.HostHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health, ok := m.latest[hostID]
	return health, ok
}

func (m *HealthMonitor) Forget(hostID string) {
	m.mu.Lock()
	delete(m.latest, hostID)
	m.mu.Unlock()
}
