// Package rtthread starts long-lived goroutines pinned to an OS thread with
// explicit scheduling configuration (priority, CPU affinity).
//
// The compositor runs on one of these; the render thread binds itself with
// LockCurrent so thread-affine GPU work stays on one OS thread.
package rtthread

import (
	"log/slog"
	"runtime"
	"sync/atomic"
)

// ThreadConfig is the scheduling-relevant state of a thread.
type ThreadConfig struct {
	// Name labels log lines.
	Name string

	// Priority is the nice value applied to the thread (-20..19).
	// Zero leaves the inherited priority untouched.
	Priority int

	// CPUs pins the thread to these CPU indices. Empty = no pinning.
	CPUs []int
}

// Thread is a running pinned goroutine.
type Thread struct {
	name string
	tid  atomic.Int64
	done chan struct{}
}

// Start runs fn on a new goroutine locked to its own OS thread, after
// applying cfg. It returns once the thread id is known.
//
// Failing to apply priority or affinity (e.g. missing privileges) is logged
// and the thread runs with default scheduling.
func Start(cfg ThreadConfig, fn func()) *Thread {
	t := &Thread{
		name: cfg.Name,
		done: make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(t.done)

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tid := CurrentThreadID()
		t.tid.Store(int64(tid))
		if err := apply(tid, cfg); err != nil {
			slog.Warn("rtthread: scheduling config not applied",
				"thread", cfg.Name,
				"tid", tid,
				"priority", cfg.Priority,
				"cpus", cfg.CPUs,
				"error", err,
			)
		} else {
			slog.Debug("rtthread: started",
				"thread", cfg.Name,
				"tid", tid,
				"priority", cfg.Priority,
				"cpus", cfg.CPUs,
			)
		}
		close(ready)

		fn()
	}()

	<-ready
	return t
}

// ID returns the OS thread id (0 where unsupported).
func (t *Thread) ID() int {
	return int(t.tid.Load())
}

// Done is closed when fn returns.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// LockCurrent locks the calling goroutine to its OS thread and returns the
// thread id. The lock is never released: the caller becomes a dedicated
// thread for the rest of its life.
func LockCurrent() int {
	runtime.LockOSThread()
	return CurrentThreadID()
}
