//go:build !linux

package rtthread

import "errors"

// Supported reports whether thread ids and scheduling config are available.
const Supported = false

var errUnsupported = errors.New("rtthread: scheduling config unsupported on this platform")

// CurrentThreadID returns 0: thread ids are unavailable on this platform.
func CurrentThreadID() int {
	return 0
}

func apply(tid int, cfg ThreadConfig) error {
	if len(cfg.CPUs) > 0 || cfg.Priority != 0 {
		return errUnsupported
	}
	return nil
}

// Affinity is unsupported on this platform.
func Affinity(tid int) ([]int, error) {
	return nil, errUnsupported
}
