package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"remotedesk/internal/clock"
	"remotedesk/internal/domain"
)

func TestDoOutcomes(t *testing.T) {
	transient := domain.Transient("send_failed", errors.New("broken pipe"))

	cases := []struct {
		name     string
		errs     []error
		outcome  Outcome
		attempts int
	}{
		{name: "first attempt succeeds", errs: []error{nil}, outcome: Success, attempts: 1},
		{name: "recovers after transient", errs: []error{transient, transient, nil}, outcome: Success, attempts: 3},
		{name: "exhausts retries", errs: []error{transient, transient, transient, transient}, outcome: Retryable, attempts: 4},
		{name: "fatal stops immediately", errs: []error{domain.ErrInvalidClipboard}, outcome: Fatal, attempts: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			policy := Policy{MaxRetries: 3, Delay: time.Millisecond}
			result := policy.Do(context.Background(), func(context.Context) error {
				err := tc.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tc.outcome, result.Outcome)
			assert.Equal(t, tc.attempts, result.Attempts)
			assert.Equal(t, tc.outcome == Retryable, result.Exhausted())
		})
	}
}

func TestDoBacksOffOnClock(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	policy := Policy{MaxRetries: 1, Delay: time.Second, Clock: fake}
	done := make(chan Result, 1)
	go func() {
		done <- policy.Do(context.Background(), func(context.Context) error {
			return domain.Transient("send_failed", nil)
		})
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	select {
	case result := <-done:
		assert.Equal(t, 2, result.Attempts)
		assert.True(t, result.Exhausted())
	case <-time.After(2 * time.Second):
		t.Fatalf("retry did not resume after backoff")
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{MaxRetries: 5, Delay: time.Hour}
	result := policy.Do(ctx, func(context.Context) error {
		return domain.Transient("send_failed", nil)
	})
	assert.Equal(t, Fatal, result.Outcome)
	assert.ErrorIs(t, result.Err, context.Canceled)
}
