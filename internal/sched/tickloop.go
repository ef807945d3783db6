// Package sched owns every recurring tick in the runtime: named periodic
// tasks with independent cadences, non-reentrant execution, cron-phase jobs,
// and bounded-grace shutdown.
package sched

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/halcyon-home/halcyon/internal/clock"
)

// RunTicks fires fn at the given cadence until stopCh is closed, with an
// optional random jitter added to each interval. Missed ticks during a pause
// are not replayed; the next interval starts from the current fire.
func RunTicks(c clock.Clock, stopCh <-chan struct{}, cadence, jitterRange time.Duration, fn func()) {
	if cadence <= 0 {
		cadence = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := c.NewTimer(interval(cadence, jitterRange))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.Chan():
		}
		fn()
		timer.Reset(interval(cadence, jitterRange))
	}
}

// RunCron fires fn at the instants the schedule produces until stopCh is
// closed. Each next instant is computed from the injected clock, so cron
// phases advance under a test clock the same way interval tasks do.
func RunCron(c clock.Clock, stopCh <-chan struct{}, schedule cron.Schedule, fn func()) {
	for {
		now := c.Now()
		next := schedule.Next(now)
		if next.IsZero() {
			return
		}
		timer := c.NewTimer(next.Sub(now))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.Chan():
		}
		fn()
	}
}

func interval(cadence, jitterRange time.Duration) time.Duration {
	if jitterRange > 0 {
		return cadence + time.Duration(rand.Int64N(int64(jitterRange)))
	}
	return cadence
}
