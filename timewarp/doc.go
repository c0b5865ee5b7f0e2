// Package timewarp implements an asynchronous time-warp compositor for a
// head-mounted display.
//
// # Philosophy
//
// "Never miss a vsync. A stale frame re-warped beats a dropped frame."
//
// The application renders eye buffers at whatever rate it can sustain. A
// dedicated compositor thread wakes at fixed phases of every display
// refresh, latches the newest completed eye buffers, predicts where the
// head will be when each eye's pixels light up, and re-projects the images
// to that pose. A slow frame is shown again, corrected for the head motion
// since it was rendered.
//
// # Architecture
//
//	render thread                         compositor thread (pinned)
//	─────────────                         ──────────────────────────
//	WarpSwap(parms) ──► WarpSourceRing ──► latch newest ready source
//	  fence wait (n-2)    4 slots           predict pose at scan phase
//	  vsync pacing        lock-free         warp + draw per eye
//	        ▲                                       │
//	        └──────────── SwapState ◄───────────────┘
//	                  {vsyncCount, eyeBufferCount}
//
// Every cross-thread handoff is a lock-free cell (see package lockless):
// neither thread ever waits on a lock held by the other.
//
// # Basic Usage
//
//	est := vsync.NewEstimator(clock.System{}, vsync.DefaultConfig())
//	pred := pose.NewPredictor(pose.DefaultConfig())
//	comp, err := timewarp.New(timewarp.DefaultConfig(), timewarp.Deps{
//	    Vsync: est, Predictor: pred, GPU: gpu, Renderer: renderer,
//	})
//	if err != nil { ... }
//	if err := comp.Start(ctx); err != nil { ... }
//	defer comp.Stop()
//
//	// render thread
//	comp.BindProducerThread()
//	for {
//	    parms := renderEyes(pred.Predict(est.PredictedDisplayTime(1, 1)))
//	    if err := comp.WarpSwap(parms); err != nil { ... }
//	}
//
// # Timing
//
// The per-eye warp phase and prediction points come from the swap program
// selected by the display topology (see package swapprog). The vsync
// counter is estimated from hardware samples (see package vsync).
//
// # Failure Modes
//
//   - No submission ready: the placeholder (black or loading) is shown
//   - GPU stall: WarpSwap blocks at most FenceTimeout, the compositor keeps
//     re-warping the newest completed frame
//   - No sensor data: identity pose, images shown unwarped
//   - WarpSwap before Start or after Stop: frame dropped, no error
package timewarp
