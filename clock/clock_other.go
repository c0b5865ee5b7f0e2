//go:build !(linux || darwin || freebsd)

package clock

import "time"

var processStart = time.Now()

func monotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}
