package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":   30 * time.Second,
		"15m":   15 * time.Minute,
		" 4H ":  4 * time.Hour,
		"1d":    24 * time.Hour,
		"1w":    7 * 24 * time.Hour,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-5m", "5x", "abc"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestNextWakeAlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler(15*time.Minute, 10*time.Second)
	now := time.Date(2026, 5, 10, 12, 7, 0, 0, time.UTC)
	wakeAt, wait := s.nextWake(now)
	assert.Equal(t, time.Date(2026, 5, 10, 12, 15, 10, 0, time.UTC), wakeAt)
	assert.Equal(t, 8*time.Minute+10*time.Second, wait)

	// just past the boundary but before the offset: same slot
	now = time.Date(2026, 5, 10, 12, 15, 5, 0, time.UTC)
	wakeAt, _ = s.nextWake(now)
	assert.Equal(t, time.Date(2026, 5, 10, 12, 15, 10, 0, time.UTC), wakeAt)
}

func TestRunImmediatelyThenStops(t *testing.T) {
	s := NewAlignedScheduler(time.Hour, 0)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			calls.Add(1)
			cancel()
			return nil
		})
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunRejectsBadInterval(t *testing.T) {
	s := NewAlignedScheduler(0, 0)
	assert.NoError(t, s.Run(context.Background(), func(context.Context) error { return nil }))
}
