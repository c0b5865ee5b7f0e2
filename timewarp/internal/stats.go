package internal

import "sync/atomic"

// metrics are the compositor's monotonic counters. All atomic.
type metrics struct {
	// Compositor thread
	framesWarped      atomic.Uint64
	placeholderFrames atomic.Uint64
	placeholderStreak atomic.Uint64
	staleFrames       atomic.Uint64
	skippedSources    atomic.Uint64
	lateEyes          atomic.Uint64
	phaseTimeouts     atomic.Uint64
	drawErrors        atomic.Uint64
	presentErrors     atomic.Uint64

	// Producer thread
	submissions    atomic.Uint64
	fenceTimeouts  atomic.Uint64
	fenceErrors    atomic.Uint64
	pacingTimeouts atomic.Uint64
	wrongThread    atomic.Uint64
	ignoredSwaps   atomic.Uint64

	defaultedImages atomic.Uint64
}

// CompositorStats is an operational snapshot.
type CompositorStats struct {
	SessionID        string
	State            string
	Running          bool
	ThreadID         int
	ProducerThreadID int
	Topology         string
	Throttled        bool
	SwapState        SwapState

	// Compositor side
	FramesWarped      uint64 // vsyncs composited
	PlaceholderFrames uint64 // vsyncs that showed the placeholder
	PlaceholderStreak uint64 // current consecutive placeholder vsyncs
	StaleFrames       uint64 // vsyncs that re-displayed the last source, nothing newer ready
	SkippedSources    uint64 // submissions never displayed
	LateEyes          uint64 // eyes whose scan phase had already passed
	PhaseTimeouts     uint64
	DrawErrors        uint64
	PresentErrors     uint64

	// Producer side
	Submissions      uint64
	FenceTimeouts    uint64
	FenceErrors      uint64
	PacingTimeouts   uint64
	WrongThreadCalls uint64
	IgnoredSwaps     uint64 // WarpSwap calls while not running
	DefaultedImages  uint64 // unsampleable eye images replaced by OptionDefaultImages
}

// Stats returns a snapshot (implements Compositor.Stats).
//
// Thread-safety: atomic reads; counters may be mutually slightly stale.
func (c *compositor) Stats() CompositorStats {
	m := &c.metrics
	return CompositorStats{
		SessionID:        c.sessionID,
		State:            State(c.state.Load()).String(),
		Running:          c.running(),
		ThreadID:         c.ThreadID(),
		ProducerThreadID: int(c.producerTid.Load()),
		Topology:         c.topology.Get().Name(),
		Throttled:        c.throttled.Get(),
		SwapState:        c.swapState.Get(),

		FramesWarped:      m.framesWarped.Load(),
		PlaceholderFrames: m.placeholderFrames.Load(),
		PlaceholderStreak: m.placeholderStreak.Load(),
		StaleFrames:       m.staleFrames.Load(),
		SkippedSources:    m.skippedSources.Load(),
		LateEyes:          m.lateEyes.Load(),
		PhaseTimeouts:     m.phaseTimeouts.Load(),
		DrawErrors:        m.drawErrors.Load(),
		PresentErrors:     m.presentErrors.Load(),

		Submissions:      m.submissions.Load(),
		FenceTimeouts:    m.fenceTimeouts.Load(),
		FenceErrors:      m.fenceErrors.Load(),
		PacingTimeouts:   m.pacingTimeouts.Load(),
		WrongThreadCalls: m.wrongThread.Load(),
		IgnoredSwaps:     m.ignoredSwaps.Load(),
		DefaultedImages:  m.defaultedImages.Load(),
	}
}
