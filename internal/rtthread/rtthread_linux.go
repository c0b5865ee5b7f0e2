//go:build linux

package rtthread

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Supported reports whether thread ids and scheduling config are available.
const Supported = true

// CurrentThreadID returns the kernel thread id of the calling thread.
func CurrentThreadID() int {
	return unix.Gettid()
}

func apply(tid int, cfg ThreadConfig) error {
	var errs []error

	if len(cfg.CPUs) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range cfg.CPUs {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(tid, &set); err != nil {
			errs = append(errs, fmt.Errorf("affinity %v: %w", cfg.CPUs, err))
		}
	}

	if cfg.Priority != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, cfg.Priority); err != nil {
			errs = append(errs, fmt.Errorf("priority %d: %w", cfg.Priority, err))
		}
	}

	return errors.Join(errs...)
}

// Affinity returns the CPUs the thread tid may run on.
func Affinity(tid int) ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(tid, &set); err != nil {
		return nil, fmt.Errorf("rtthread: get affinity: %w", err)
	}
	var cpus []int
	for cpu := 0; cpu < 1024 && len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
