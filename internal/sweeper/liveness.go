package sweeper

import (
	"sync"
	"time"
)

// Liveness remembers what the background loop last did. Readiness and the
// metrics endpoint read it; only the sweeper writes it.
type Liveness struct {
	mu      sync.Mutex
	last    time.Time
	report  Report
	runs    uint64
	removed Report
}

// Status is a copy of the liveness record. Removed accumulates every
// report since startup.
type Status struct {
	LastSweep time.Time
	Last      Report
	Runs      uint64
	Removed   Report
}

func NewLiveness() *Liveness {
	return &Liveness{}
}

func (l *Liveness) Mark(at time.Time, report Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = at
	l.report = report
	l.runs++
	l.removed = l.removed.plus(report)
}

func (l *Liveness) LastSweep() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Liveness) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{LastSweep: l.last, Last: l.report, Runs: l.runs, Removed: l.removed}
}

// Stalled is true once three intervals pass without a completed sweep.
// A zero interval means the loop is disabled and never stalls.
func (l *Liveness) Stalled(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	last := l.LastSweep()
	return last.IsZero() || now.Sub(last) > 3*interval
}
