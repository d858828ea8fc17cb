package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	if c.Since(start) < time.Millisecond {
		t.Errorf("Since after Sleep(1ms) = %v, want >= 1ms", c.Since(start))
	}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not fire")
	}
}

func TestMockClock_SleepRecordsAndAdvances(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)

	c.Sleep(100 * time.Millisecond)
	c.Sleep(50 * time.Millisecond)

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 50*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if got := c.Since(base); got != 150*time.Millisecond {
		t.Errorf("Since(base) = %v, want 150ms", got)
	}

	c.Advance(time.Second)
	if got := c.Now(); !got.Equal(base.Add(1150 * time.Millisecond)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestMockClock_AfterFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	select {
	case <-c.After(time.Hour):
	default:
		t.Fatal("mock After should be ready without blocking")
	}
	if len(c.Sleeps()) != 1 {
		t.Errorf("After should record one sleep, got %d", len(c.Sleeps()))
	}
}

func TestSleepContext(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	if err := SleepContext(context.Background(), c, 10*time.Millisecond); err != nil {
		t.Fatalf("SleepContext: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, c, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext(cancelled, 0) = %v, want context.Canceled", err)
	}
}
