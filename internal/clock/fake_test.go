package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewFake(start)
	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())
}

func TestFakeClockAfterFiresOnlyAtDeadline(t *testing.T) {
	clk := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ch := clk.After(time.Second)

	clk.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatalf("fired early")
	default:
	}

	clk.Advance(500 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatalf("expected fire at deadline")
	}
}

func TestFakeClockTickerRepeatsAndStops(t *testing.T) {
	clk := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clk.NewTicker(time.Second)
	require.Equal(t, 1, clk.Pending())

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	ticker.Stop()
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatalf("tick after stop")
	default:
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	clk := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	called := false
	timer := clk.AfterFunc(time.Second, func() { called = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	clk.Advance(2 * time.Second)
	assert.False(t, called)

	clk.AfterFunc(time.Second, func() { called = true })
	clk.Advance(time.Second)
	assert.True(t, called)
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clk := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan struct{})
	go func() {
		<-clk.After(time.Minute)
		close(done)
	}()
	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter did not fire")
	}
}
