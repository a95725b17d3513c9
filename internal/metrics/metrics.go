package metrics

import "sync/atomic"

type Counters struct {
	sessionsCreatedTotal        atomic.Uint64
	sessionsActivatedTotal      atomic.Uint64
	sessionsEndedTotal          atomic.Uint64
	sessionsFailedTotal         atomic.Uint64
	sessionsTimedOutTotal       atomic.Uint64
	messagesRoutedTotal         atomic.Uint64
	deliveryFailuresTotal       atomic.Uint64
	clipboardTransmissionsTotal atomic.Uint64
	clipboardDeduplicatedTotal  atomic.Uint64
	clipboardFailuresTotal      atomic.Uint64
	transfersStartedTotal       atomic.Uint64
	transfersCompletedTotal     atomic.Uint64
	transfersFailedTotal        atomic.Uint64
	qualityAdjustmentsTotal     atomic.Uint64
	healthReportsTotal          atomic.Uint64
	sweeperRunsTotal            atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncSessionsCreated() {
	c.sessionsCreatedTotal.Add(1)
}

func (c *Counters) IncSessionsActivated() {
	c.sessionsActivatedTotal.Add(1)
}

func (c *Counters) IncSessionsEnded() {
	c.sessionsEndedTotal.Add(1)
}

func (c *Counters) IncSessionsFailed() {
	c.sessionsFailedTotal.Add(1)
}

func (c *Counters) AddSessionsTimedOut(count int) {
	if count <= 0 {
		return
	}
	c.sessionsTimedOutTotal.Add(uint64(count))
}

func (c *Counters) IncMessagesRouted() {
	c.messagesRoutedTotal.Add(1)
}

func (c *Counters) IncDeliveryFailures() {
	c.deliveryFailuresTotal.Add(1)
}

func (c *Counters) IncClipboardTransmissions() {
	c.clipboardTransmissionsTotal.Add(1)
}

func (c *Counters) IncClipboardDeduplicated() {
	c.clipboardDeduplicatedTotal.Add(1)
}

func (c *Counters) IncClipboardFailures() {
	c.clipboardFailuresTotal.Add(1)
}

func (c *Counters) IncTransfersStarted() {
	c.transfersStartedTotal.Add(1)
}

func (c *Counters) IncTransfersCompleted() {
	c.transfersCompletedTotal.Add(1)
}

func (c *Counters) IncTransfersFailed() {
	c.transfersFailedTotal.Add(1)
}

func (c *Counters) IncQualityAdjustments() {
	c.qualityAdjustmentsTotal.Add(1)
}

func (c *Counters) IncHealthReports() {
	c.healthReportsTotal.Add(1)
}

func (c *Counters) IncSweeperRuns() {
	c.sweeperRunsTotal.Add(1)
}

func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"sessions_created_total":        c.sessionsCreatedTotal.Load(),
		"sessions_activated_total":      c.sessionsActivatedTotal.Load(),
		"sessions_ended_total":          c.sessionsEndedTotal.Load(),
		"sessions_failed_total":         c.sessionsFailedTotal.Load(),
		"sessions_timed_out_total":      c.sessionsTimedOutTotal.Load(),
		"messages_routed_total":         c.messagesRoutedTotal.Load(),
		"delivery_failures_total":       c.deliveryFailuresTotal.Load(),
		"clipboard_transmissions_total": c.clipboardTransmissionsTotal.Load(),
		"clipboard_deduplicated_total":  c.clipboardDeduplicatedTotal.Load(),
		"clipboard_failures_total":      c.clipboardFailuresTotal.Load(),
		"transfers_started_total":       c.transfersStartedTotal.Load(),
		"transfers_completed_total":     c.transfersCompletedTotal.Load(),
		"transfers_failed_total":        c.transfersFailedTotal.Load(),
		"quality_adjustments_total":     c.qualityAdjustmentsTotal.Load(),
		"health_reports_total":          c.healthReportsTotal.Load(),
		"sweeper_runs_total":            c.sweeperRunsTotal.Load(),
	}
}
