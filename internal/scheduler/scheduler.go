package scheduler

import (
	"context"
	"time"

	"polybot/internal/logger"
)

var log = logger.With("scheduler")

// AlignedScheduler runs a task on wall-clock boundaries of Interval, shifted
// by Offset. A slow task delays the next run; runs never overlap.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done. Task errors are logged and do not stop the loop.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context) error) error {
	if s == nil || task == nil {
		return nil
	}
	if s.Interval <= 0 {
		log.Warnf("invalid interval=%s, exit", s.Interval)
		return nil
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	log.Infof("started interval=%s offset=%s run_immediately=%v", s.Interval, s.Offset, s.RunImmediately)
	if s.RunImmediately {
		s.runOnce(ctx, task)
	}
	for {
		wakeAt, wait := s.nextWake(s.nowFn())
		log.Debugf("next run at %s (in %s)", wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Infof("ctx done, exit")
				return ctx.Err()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runOnce(ctx, task)
	}
}

func (s *AlignedScheduler) runOnce(ctx context.Context, task func(context.Context) error) {
	start := s.nowFn()
	if err := task(ctx); err != nil {
		log.Errorf("task failed after %s: %v", s.nowFn().Sub(start).Truncate(time.Millisecond), err)
	}
}

func (s *AlignedScheduler) nextWake(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	boundary := now.Truncate(s.Interval).Add(s.Interval)
	wakeAt := boundary.Add(s.Offset)
	if wakeAt.Sub(now) > s.Interval {
		wakeAt = wakeAt.Add(-s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
