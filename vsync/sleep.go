package vsync

import (
	"time"

	"github.com/e7canasta/hmd-timewarp/clock"
)

// SleepUntil sleeps until the absolute time target (seconds) or until limit
// has elapsed, whichever comes first. It returns true if target was reached.
//
// A target already in the past returns immediately. The wait is always
// bounded by limit, so a stalled feed cannot hang the caller.
func (e *Estimator) SleepUntil(target float64, limit time.Duration) bool {
	now := e.clock.Now()
	deadline := now + limit.Seconds()

	for now < target {
		if now >= deadline {
			return false
		}
		wake := target
		if deadline < wake {
			wake = deadline
		}
		d := clock.Duration(wake - now)
		if d <= 0 {
			// sub-nanosecond remainder
			return wake == target
		}
		e.clock.Sleep(d)
		now = e.clock.Now()
	}
	return true
}

// SleepUntilVsync sleeps until fractional vsync v, bounded by limit.
func (e *Estimator) SleepUntilVsync(v float64, limit time.Duration) bool {
	return e.SleepUntil(e.VsyncToTime(v), limit)
}
