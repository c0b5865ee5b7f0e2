package internal

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/e7canasta/hmd-timewarp/internal/rtthread"
)

// ignoredSwapLogEvery rate-limits the "not running" warning (~1/s at 60Hz).
const ignoredSwapLogEvery = 60

// BindProducerThread locks the calling goroutine to its OS thread and
// records it as the only thread allowed to call WarpSwap. Returns the
// thread id.
func (c *compositor) BindProducerThread() int {
	tid := rtthread.LockCurrent()
	c.producerTid.Store(int64(tid))
	slog.Info("timewarp: producer thread bound", "session_id", c.sessionID, "tid", tid)
	return tid
}

// WarpSwap submits one frame of eye buffers (implements Compositor.WarpSwap).
//
// Algorithm:
//  1. Not running: log (rate-limited), return nil. Frames are dropped, the
//     application keeps rendering (pause/resume)
//  2. Verify the calling thread is the bound producer thread
//  3. Submit once, or flushRepeats times with OptionFlush
//
// Each submission:
//  1. Create a GPU fence in the producer's command stream
//  2. Wait (bounded) for the fence of the submission two before this one
//  3. Wait (bounded) until the compositor has advanced MinimumVsyncs vsyncs
//     past the previous submission
//  4. Stamp MinimumVsync = floor(current fractional vsync) and publish
//
// Blocks the caller for at most FenceTimeout + PacingTimeout per submission.
//
// Thread-safety: producer thread only.
func (c *compositor) WarpSwap(parms WarpParms) error {
	if !c.running() {
		if n := c.metrics.ignoredSwaps.Add(1); n == 1 || n%ignoredSwapLogEvery == 0 {
			slog.Warn("timewarp: WarpSwap while compositor not running, frame dropped",
				"session_id", c.sessionID,
				"dropped", n,
			)
		}
		return nil
	}

	if err := c.checkThread(); err != nil {
		return err
	}

	repeats := 1
	if parms.Options&OptionFlush != 0 {
		repeats = flushRepeats
	}
	for i := 0; i < repeats; i++ {
		if i > 0 && !c.running() {
			return nil
		}
		c.warpSwapInternal(parms)
	}
	return nil
}

// checkThread enforces single-producer submission.
// An unbound compositor binds the first caller.
func (c *compositor) checkThread() error {
	if !rtthread.Supported {
		return nil
	}

	if c.producerTid.Load() == 0 {
		tid := rtthread.LockCurrent()
		if c.producerTid.CompareAndSwap(0, int64(tid)) {
			slog.Info("timewarp: producer thread bound on first WarpSwap", "tid", tid)
			return nil
		}
	}

	tid := rtthread.CurrentThreadID()
	bound := c.producerTid.Load()
	if int64(tid) == bound {
		return nil
	}

	c.metrics.wrongThread.Add(1)
	err := fmt.Errorf("%w: tid %d, producer tid %d", ErrWrongThread, tid, bound)
	if c.cfg.StrictThreadChecks {
		panic(err)
	}
	slog.Error("timewarp: WarpSwap rejected", "tid", tid, "producer_tid", bound)
	return err
}

func (c *compositor) warpSwapInternal(parms WarpParms) {
	fence, err := c.gpu.CreateFence()
	if err != nil {
		c.metrics.fenceErrors.Add(1)
		slog.Warn("timewarp: fence creation failed, submitting unfenced", "error", err)
		fence = nil
	}

	parms = c.applyDefaults(parms)

	c.waitForPriorCompletion()
	c.waitForVsyncAdvance(parms.MinimumVsyncs)
	c.submitSource(parms, fence)
}

// applyDefaults normalizes submission parameters.
func (c *compositor) applyDefaults(parms WarpParms) WarpParms {
	if parms.MinimumVsyncs < 1 {
		parms.MinimumVsyncs = 1
	}
	if c.throttled.Get() {
		if parms.MinimumVsyncs < 2 {
			parms.MinimumVsyncs = 2
		}
		parms.Options |= OptionDisableChromatic
	}
	if parms.Options&OptionDefaultImages != 0 {
		if n := defaultImages(&parms, c.cfg.BlackTexture); n > 0 {
			c.metrics.defaultedImages.Add(uint64(n))
		}
	}
	return parms
}

// waitForPriorCompletion bounds GPU run-ahead: at most two frames may be
// queued behind the one being submitted.
func (c *compositor) waitForPriorCompletion() {
	prior := c.ring.Count() - 1
	if prior <= 0 {
		return
	}
	f := c.fences[prior%RingSize]
	if f == nil || f.IsSignaled() {
		return
	}
	if !f.Wait(c.cfg.FenceTimeout) {
		c.metrics.fenceTimeouts.Add(1)
		slog.Warn("timewarp: GPU fence wait timed out, continuing",
			"sequence", prior,
			"timeout", c.cfg.FenceTimeout,
		)
	}
}

// waitForVsyncAdvance paces the producer to one submission per
// minimumVsyncs composited vsyncs. The first submission never waits.
func (c *compositor) waitForVsyncAdvance(minimumVsyncs int) {
	if !c.submitted {
		return
	}
	target := c.lastSwapVsync + int64(minimumVsyncs)
	deadline := time.Now().Add(c.cfg.PacingTimeout)

	for {
		woken := c.wake.wait()
		if c.swapState.Get().VsyncCount >= target || !c.running() {
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.metrics.pacingTimeouts.Add(1)
			slog.Debug("timewarp: vsync pacing timed out",
				"target_vsync", target,
				"swap_vsync", c.swapState.Get().VsyncCount,
			)
			return
		}

		poll := c.vsync.Period()
		if poll > remaining {
			poll = remaining
		}
		timer := time.NewTimer(poll)
		select {
		case <-woken:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// submitSource stamps and publishes one source. Returns its sequence.
func (c *compositor) submitSource(parms WarpParms, fence Fence) int64 {
	minVsync := int64(math.Floor(c.vsync.CurrentFractionalVsync()))

	seq := c.ring.Submit(WarpSource{
		MinimumVsync:               minVsync,
		DisableChromaticCorrection: parms.Options&OptionDisableChromatic != 0,
		Fence:                      fence,
		Parms:                      parms,
	})

	// The slot's previous fence (seq-RingSize) is never scanned again.
	slot := seq % RingSize
	if old := c.fences[slot]; old != nil {
		old.Release()
	}
	c.fences[slot] = fence

	c.lastSwapVsync = minVsync
	c.submitted = true
	c.metrics.submissions.Add(1)
	return seq
}
