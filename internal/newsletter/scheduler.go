package newsletter

import (
	"context"
	"time"

	"digestbot/pkg/logx"
)

// fallbackSleep is applied after an unexpected cycle failure so a broken
// collaborator cannot spin the loop.
const fallbackSleep = time.Hour

// NextWake computes the next instant, strictly after now, at which the
// scheduler must act:
//   - the earliest active hour later today, if any remains;
//   - else the earliest active hour tomorrow;
//   - else (no subscribers) the start of tomorrow's scheduling window.
//
// Pure: the result depends only on the arguments.
func NextWake(now time.Time, activeHours []int) time.Time {
	startOfHour := func(t time.Time, h int) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, t.Location())
	}

	if len(activeHours) == 0 {
		next := startOfHour(now, HourMin)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	earliest := -1
	for _, h := range activeHours {
		if h < HourMin || h > HourMax {
			continue
		}
		if t := startOfHour(now, h); t.After(now) {
			return t
		}
		if earliest == -1 || h < earliest {
			earliest = h
		}
	}
	if earliest == -1 {
		// All configured hours were out of range.
		next := startOfHour(now, HourMin)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	return startOfHour(now, earliest).AddDate(0, 0, 1)
}

// Run is the personal delivery scheduler: a single long-lived loop that
// wakes at each active hour, delivers to the subscribers due then, and
// sleeps until the next computed wake time. The sleep is interruptible by
// ctx cancellation and by ForceScan. The loop never terminates because of a
// single iteration's failure.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("personal delivery scheduler started")
	for {
		sleep, err := s.cycle(ctx)
		if err != nil {
			s.log.Error("scheduler cycle failed", logx.Err(err))
			sleep = fallbackSleep
		}

		s.log.Info("scheduler sleeping", logx.Duration("for", sleep))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("personal delivery scheduler stopped")
			return
		case <-s.forceCh:
			timer.Stop()
			s.log.Info("scheduler woken by force trigger")
			if err := s.ForceRun(ctx); err != nil {
				s.log.Error("forced run failed", logx.Err(err))
			}
		case <-timer.C:
		}
	}
}

// cycle performs one scheduler iteration and returns how long to sleep.
func (s *Service) cycle(ctx context.Context) (time.Duration, error) {
	now := s.now().In(s.loc)

	s.rolloverIfNeeded()

	active := s.ActiveHours()
	if len(active) == 0 {
		wake := NextWake(now, nil)
		s.log.Info("no active subscribers", logx.Time("next_check", wake))
		return wake.Sub(now), nil
	}

	if containsHour(active, now.Hour()) {
		s.log.Info("active hour reached", logx.Int("hour", now.Hour()))
		posts, err := s.DailyPosts(ctx)
		if err != nil {
			return 0, err
		}
		if len(posts) == 0 {
			s.log.Info("no tagged posts today")
		} else {
			s.deliverDue(ctx, posts)
		}
	} else {
		s.log.Debug("hour inactive", logx.Int("hour", now.Hour()))
	}

	wake := NextWake(s.now().In(s.loc), active)
	return wake.Sub(s.now().In(s.loc)), nil
}

// ForceScan interrupts the scheduler's sleep and triggers an immediate
// scan-and-deliver pass. Safe to call from any goroutine; coalesces when a
// trigger is already pending.
func (s *Service) ForceScan() {
	select {
	case s.forceCh <- struct{}{}:
	default:
	}
}

func containsHour(hours []int, h int) bool {
	for _, x := range hours {
		if x == h {
			return true
		}
	}
	return false
}
