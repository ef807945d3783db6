// Package clock funnels all time reads through a single injectable source.
// Production code uses WallClock; tests substitute a juju testclock so every
// cadence and one-shot timer can be advanced deterministically.
package clock

import (
	jujuclock "github.com/juju/clock"
)

// Clock is the sole source of time for the runtime. No package outside this
// one may call time.Now directly.
type Clock = jujuclock.Clock

// Timer is a stoppable, resettable timer handle.
type Timer = jujuclock.Timer

// WallClock is the production clock backed by the system time.
var WallClock Clock = jujuclock.WallClock

// UnixMillis returns c.Now() as integer milliseconds since the Unix epoch,
// the timestamp unit used by all persisted records.
func UnixMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
