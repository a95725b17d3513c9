// Package retry runs an operation through a bounded-attempt state machine.
// Each attempt ends in one of three outcomes: success, a retryable failure
// (transient errors) or a fatal failure (anything else). Retryable failures
// back off and try again until attempts run out.
package retry

import (
	"context"
	"time"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
)

type Outcome int

const (
	Success Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps an error to an attempt outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if domain.IsKind(err, domain.KindTransient) {
		return Retryable
	}
	return Fatal
}

type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
	Clock      clock.Clock
}

type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Exhausted reports whether every allowed attempt failed with a retryable error.
func (r Result) Exhausted() bool {
	return r.Outcome == Retryable
}

func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) Result {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	maxAttempts := p.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := p.Delay

	var result Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		result.Err = op(ctx)
		result.Outcome = Classify(result.Err)
		if result.Outcome != Retryable || attempt == maxAttempts {
			return result
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				result.Outcome = Fatal
				return result
			case <-clk.After(delay):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		} else if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Outcome = Fatal
			return result
		}
	}
	return result
}
