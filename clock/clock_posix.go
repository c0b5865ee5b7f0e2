//go:build linux || darwin || freebsd

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// monotonicSeconds reads CLOCK_MONOTONIC directly so timestamps share the
// base used by kernel vsync events.
func monotonicSeconds() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackSeconds()
	}
	return float64(ts.Sec) + float64(ts.Nsec)*1e-9
}

var processStart = time.Now()

func fallbackSeconds() float64 {
	return time.Since(processStart).Seconds()
}
