package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hmd-timewarp/timewarp"
)

// GPUConfig configures the simulated GPU.
type GPUConfig struct {
	// FrameTime is how long after creation a fence signals.
	FrameTime time.Duration

	// NeverSignal simulates a hung GPU.
	NeverSignal bool
}

// GPU creates fences that signal FrameTime after creation.
type GPU struct {
	cfg GPUConfig

	created  atomic.Uint64
	released atomic.Uint64
}

// NewGPU creates a simulated GPU.
func NewGPU(cfg GPUConfig) *GPU {
	return &GPU{cfg: cfg}
}

// CreateFence implements timewarp.GPU.
func (g *GPU) CreateFence() (timewarp.Fence, error) {
	f := &fence{gpu: g, done: make(chan struct{})}
	g.created.Add(1)

	switch {
	case g.cfg.NeverSignal:
	case g.cfg.FrameTime <= 0:
		f.signal()
	default:
		time.AfterFunc(g.cfg.FrameTime, f.signal)
	}
	return f, nil
}

// GPUStats reports fence bookkeeping.
type GPUStats struct {
	Created  uint64
	Released uint64
	Live     uint64
}

// Stats returns fence counters.
func (g *GPU) Stats() GPUStats {
	created, released := g.created.Load(), g.released.Load()
	return GPUStats{Created: created, Released: released, Live: created - released}
}

type fence struct {
	gpu  *GPU
	done chan struct{}

	signalOnce  sync.Once
	releaseOnce sync.Once
}

func (f *fence) signal() {
	f.signalOnce.Do(func() { close(f.done) })
}

func (f *fence) IsSignaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fence) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

// Release is idempotent. The fence stays queryable after release.
func (f *fence) Release() {
	f.releaseOnce.Do(func() {
		f.gpu.released.Add(1)
	})
}
