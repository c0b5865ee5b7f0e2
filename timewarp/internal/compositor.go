// Package internal implements the asynchronous time-warp compositor.
//
// This package is INTERNAL - clients MUST use the public API in the parent
// package (timewarp).
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/image/math/f32"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/internal/rtthread"
	"github.com/e7canasta/hmd-timewarp/latchbus"
	"github.com/e7canasta/hmd-timewarp/lockless"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/swapprog"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// Deps are the collaborators injected into the compositor.
type Deps struct {
	Clock     clock.Clock
	Vsync     *vsync.Estimator
	Predictor *pose.Predictor
	GPU       GPU
	Renderer  Renderer

	// Latches receives one event per vsync (optional).
	Latches latchbus.Bus
}

// displayRecord tracks when a ring sequence was first shown, per eye.
type displayRecord struct {
	seq   int64
	first [2]int64
}

// compositor is the concrete implementation of timewarp.Compositor.
//
// Thread topology:
//   - 1 compositor thread: run loop, pinned OS thread (spawned by Start)
//   - 1 producer thread: WarpSwap callers (application render thread)
//   - N readers: SwapState, Stats, EyeLog (any goroutine)
//
// Ownership:
//   - lastVsync, lastSeq, displays, current: compositor thread only
//   - fences, lastSwapVsync, submitted: producer thread only
//   - everything else: lockless cells, atomics, or mutex protected
type compositor struct {
	cfg       Config
	sessionID string

	clock     clock.Clock
	vsync     *vsync.Estimator
	predictor *pose.Predictor
	gpu       GPU
	renderer  Renderer
	latches   latchbus.Bus

	// --- Handoff (lockless) ---

	ring      *Ring
	swapState lockless.Cell[SwapState]
	shutdown  lockless.Cell[bool] // written under startedMu

	topologyMu sync.Mutex
	topology   lockless.Cell[swapprog.Topology]

	throttleMu sync.Mutex
	throttled  lockless.Cell[bool]

	wake vsyncLatch // compositor → producer: SwapState advanced

	// --- Compositor thread state ---

	lastVsync int64
	lastSeq   int64
	displays  [RingSize]displayRecord

	// current is the last latched source. It stays on screen while nothing
	// newer is ready, even after its ring slot is overwritten.
	current    WarpSource
	hasCurrent bool

	// --- Producer thread state ---

	producerTid   atomic.Int64 // 0 = not bound
	fences        [RingSize]Fence
	lastSwapVsync int64
	submitted     bool

	// --- Observability ---

	state   atomic.Int32
	eyeLog  *eyeLog
	metrics metrics

	// --- Lifecycle ---

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	thread *rtthread.Thread

	startedMu sync.Mutex
	started   bool
}

// NewCompositor creates a compositor (called by timewarp.New).
func NewCompositor(cfg Config, deps Deps) (*compositor, error) {
	if deps.Vsync == nil || deps.Predictor == nil || deps.GPU == nil || deps.Renderer == nil {
		return nil, ErrNoRenderer
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if cfg.Programs == (swapprog.Table{}) {
		cfg.Programs = swapprog.DefaultTable()
	}
	if err := cfg.Programs.Validate(); err != nil {
		return nil, fmt.Errorf("timewarp: %w", err)
	}
	defaults := DefaultConfig()
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = defaults.PhaseTimeout
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = defaults.FenceTimeout
	}
	if cfg.PacingTimeout <= 0 {
		cfg.PacingTimeout = defaults.PacingTimeout
	}
	if cfg.PlaceholderLogEvery == 0 {
		cfg.PlaceholderLogEvery = defaults.PlaceholderLogEvery
	}

	c := &compositor{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		clock:     deps.Clock,
		vsync:     deps.Vsync,
		predictor: deps.Predictor,
		gpu:       deps.GPU,
		renderer:  deps.Renderer,
		latches:   deps.Latches,
		ring:      NewRing(cfg.BlackTexture),
		eyeLog:    newEyeLog(),
		wake:      newVsyncLatch(),
	}
	c.topology.Set(cfg.Topology)
	c.throttled.Set(cfg.Throttled)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Start prepares every warp program variant and starts the compositor
// thread (implements Compositor.Start).
//
// Lifecycle:
//  1. Rejects a second Start while running (logged, ErrAlreadyStarted)
//  2. Prepares Effect × {plain, chromatic} programs (no mid-session compiles)
//  3. Spawns the pinned compositor thread
//  4. Returns immediately
//
// The loop runs until Stop() or ctx cancellation.
func (c *compositor) Start(ctx context.Context) error {
	c.startedMu.Lock()
	defer c.startedMu.Unlock()

	if c.started {
		slog.Warn("timewarp: Start on running compositor ignored", "session_id", c.sessionID)
		return ErrAlreadyStarted
	}

	for effect := Effect(0); effect < effectCount; effect++ {
		for _, chromatic := range []bool{false, true} {
			id := ProgramID{Effect: effect, Chromatic: chromatic}
			if err := c.renderer.PrepareProgram(id); err != nil {
				return fmt.Errorf("timewarp: prepare program %s (chromatic=%v): %w", effect, chromatic, err)
			}
		}
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.shutdown.Set(false)
	c.started = true
	c.setState(StateIdle)

	c.wg.Add(1)
	c.thread = rtthread.Start(rtthread.ThreadConfig{
		Name:     "timewarp",
		Priority: c.cfg.ThreadPriority,
		CPUs:     c.cfg.ThreadCPUs,
	}, c.run)

	slog.Info("timewarp: compositor started",
		"session_id", c.sessionID,
		"tid", c.thread.ID(),
		"topology", c.topology.Get().Name(),
	)
	return nil
}

// Stop requests shutdown and waits for the compositor thread to finish its
// in-flight vsync (implements Compositor.Stop).
//
// After Stop():
//   - WarpSwap returns immediately (no-op)
//   - SwapState holds the final published state
//
// Idempotent. The compositor can be started again.
func (c *compositor) Stop() error {
	c.startedMu.Lock()
	if !c.started {
		c.startedMu.Unlock()
		return nil
	}
	c.shutdown.Set(true)
	c.cancel()
	c.startedMu.Unlock()

	c.wg.Wait()
	c.wake.broadcast()

	c.startedMu.Lock()
	c.started = false
	c.startedMu.Unlock()
	return nil
}

// running reports whether WarpSwap submissions can be displayed.
func (c *compositor) running() bool {
	c.startedMu.Lock()
	defer c.startedMu.Unlock()
	return c.started && !c.shutdown.Get() && c.ctx.Err() == nil
}

// run is the compositor thread body.
//
// Exits on: shutdown flag (polled once per vsync) or ctx.Done().
func (c *compositor) run() {
	defer c.wg.Done()

	for !c.shutdown.Get() && c.ctx.Err() == nil {
		c.warpFrame()
	}

	// Final state: the in-flight vsync has been presented.
	c.swapState.Set(SwapState{VsyncCount: c.lastVsync, EyeBufferCount: c.lastSeq})
	c.setState(StateStopped)
	c.wake.broadcast()

	slog.Info("timewarp: compositor stopped",
		"session_id", c.sessionID,
		"last_vsync", c.lastVsync,
		"eye_buffer_count", c.lastSeq,
		"frames", c.metrics.framesWarped.Load(),
	)
}

// warpFrame composites one vsync.
//
// Algorithm:
//  1. vsyncBase = floor(current fractional vsync), forced past the last
//     composited vsync (forward progress under overload)
//  2. Select the swap program for the current topology
//  3. Per eye: wait for scan phase vsyncBase + deltaVsync[eye] (bounded)
//  4. Eye 0: latch the latest ready warp source
//  5. Per eye: predict at the start/stop prediction points, compute the
//     incremental warp, draw
//  6. Present, publish SwapState{vsyncBase, latched sequence}, wake producer
func (c *compositor) warpFrame() {
	vsyncBase := int64(math.Floor(c.vsync.CurrentFractionalVsync()))
	if vsyncBase <= c.lastVsync {
		vsyncBase = c.lastVsync + 1
	}
	prog := c.cfg.Programs.Select(c.topology.Get())

	var src WarpSource
	for eye := 0; eye < 2; eye++ {
		c.setState(StateWaitForPhase)
		late := c.waitForPhase(float64(vsyncBase) + prog.DeltaVsync[eye])

		if eye == 0 {
			src = c.latch(vsyncBase, prog)
		}

		c.setState(StateWarp)
		c.warpEye(eye, vsyncBase, prog, src, late)
	}

	if err := c.renderer.Present(vsyncBase); err != nil {
		c.metrics.presentErrors.Add(1)
		slog.Debug("timewarp: present failed", "vsync", vsyncBase, "error", err)
	}
	c.eyeLog.completeVsync(vsyncBase, c.clock.Now()-c.vsync.VsyncToTime(float64(vsyncBase)))

	c.setState(StatePublish)
	if src.Sequence > c.lastSeq {
		c.lastSeq = src.Sequence
	}
	c.lastVsync = vsyncBase
	c.swapState.Set(SwapState{VsyncCount: vsyncBase, EyeBufferCount: c.lastSeq})
	c.metrics.framesWarped.Add(1)
	c.wake.broadcast()
}

// waitForPhase sleeps until fractional vsync target, bounded by
// PhaseTimeout. Returns true if the target had already passed by more than
// half a vsync (the eye is late).
func (c *compositor) waitForPhase(target float64) (late bool) {
	if c.vsync.CurrentFractionalVsync() > target+0.5 {
		c.metrics.lateEyes.Add(1)
		return true
	}
	if !c.vsync.SleepUntilVsync(target, c.cfg.PhaseTimeout) {
		c.metrics.phaseTimeouts.Add(1)
	}
	return false
}

// latch picks the warp source for vsyncBase.
//
// Fallback order when the ring has no ready source:
//  1. The last latched source (stale frame, external velocity keeps applying)
//  2. The placeholder, only if nothing was ever displayed
func (c *compositor) latch(vsyncBase int64, prog swapprog.SwapProgram) WarpSource {
	src, ok := c.ring.LatestReady(vsyncBase)

	if c.hasCurrent && (!ok || src.Sequence < c.current.Sequence) {
		c.metrics.staleFrames.Add(1)
		c.publishLatch(vsyncBase, prog, c.current, 0)
		return c.current
	}

	if !ok {
		streak := c.metrics.placeholderStreak.Add(1)
		c.metrics.placeholderFrames.Add(1)
		if streak == 1 || streak%c.cfg.PlaceholderLogEvery == 0 {
			slog.Warn("timewarp: no valid eye buffers, showing placeholder",
				"vsync", vsyncBase,
				"streak", streak,
				"eye_buffer_count", c.ring.Count(),
			)
		}
		if c.ring.Count() == 0 && c.cfg.LoadingTexture != 0 {
			for eye := range src.Parms.Eyes {
				src.Parms.Eyes[eye].Layers[0].Image = placeholderImage(c.cfg.LoadingTexture)
			}
		}
	} else {
		if streak := c.metrics.placeholderStreak.Swap(0); streak > 0 {
			slog.Info("timewarp: eye buffers resumed", "vsync", vsyncBase, "after_vsyncs", streak)
		}

		var skipped int64
		if src.Sequence > c.lastSeq {
			skipped = src.Sequence - c.lastSeq - 1
			c.metrics.skippedSources.Add(uint64(skipped))
		}

		rec := &c.displays[src.Sequence%RingSize]
		if rec.seq != src.Sequence {
			*rec = displayRecord{seq: src.Sequence}
		}
		c.current, c.hasCurrent = src, true
		c.publishLatch(vsyncBase, prog, src, skipped)
		return src
	}

	c.publishLatch(vsyncBase, prog, src, 0)
	return src
}

func (c *compositor) publishLatch(vsyncBase int64, prog swapprog.SwapProgram, src WarpSource, skipped int64) {
	if c.latches == nil {
		return
	}
	c.latches.Publish(latchbus.Latch{
		SessionID:      c.sessionID,
		VsyncCount:     vsyncBase,
		EyeBufferCount: src.Sequence,
		Placeholder:    src.Placeholder,
		Skipped:        skipped,
		Textures: [2]uint32{
			uint32(src.Parms.Eyes[0].Layers[0].Image.Texture),
			uint32(src.Parms.Eyes[1].Layers[0].Image.Texture),
		},
		DisplayTime: c.vsync.VsyncToTime(float64(vsyncBase) + prog.PredictionPoints[0][0]),
	})
}

// warpEye predicts the display pose of one eye and issues its warp draw.
func (c *compositor) warpEye(eye int, vsyncBase int64, prog swapprog.SwapProgram, src WarpSource, late bool) {
	vsyncTime := c.vsync.VsyncToTime(float64(vsyncBase))
	start := c.vsync.VsyncToTime(float64(vsyncBase) + prog.PredictionPoints[eye][0])
	stop := c.vsync.VsyncToTime(float64(vsyncBase) + prog.PredictionPoints[eye][1])
	predicted := [2]pose.SensorState{c.predictor.Predict(start), c.predictor.Predict(stop)}

	imageEye := eye
	if prog.DualMonoDisplay {
		imageEye = 0
	}
	parms := src.Parms.Eyes[imageEye]

	var steps int64
	if !src.Placeholder {
		rec := &c.displays[src.Sequence%RingSize]
		if rec.first[eye] == 0 {
			rec.first[eye] = vsyncBase
		}
		steps = vsyncBase - rec.first[eye]
	}
	ext := externalVelocity(src.Parms.ExternalVelocity, steps)

	cmd := EyeDraw{
		Eye:         eye,
		VsyncBase:   vsyncBase,
		Sequence:    src.Sequence,
		Program:     c.programFor(src),
		Predicted:   predicted[1],
		Placeholder: src.Placeholder,
	}
	for layer := 0; layer < MaxLayers; layer++ {
		l := parms.Layers[layer]
		cmd.Images[layer] = l.Image
		if layer > 0 && l.Image.Texture == 0 {
			continue
		}
		if src.Placeholder || (layer > 0 && src.Parms.Options&OptionFixedOverlay != 0) {
			w := identityWarp(l)
			cmd.Warps[layer] = [2]f32.Mat4{w, w}
			continue
		}
		tc := layerTexCoords(l)
		for i, st := range predicted {
			delta := WarpDelta(l.RenderPose, st.Predicted.Orientation).Mul(ext)
			cmd.Warps[layer][i] = ToUniform(WarpMatrix(tc, delta))
		}
	}

	if err := c.renderer.DrawEye(cmd); err != nil {
		if n := c.metrics.drawErrors.Add(1); n == 1 || n%c.cfg.PlaceholderLogEvery == 0 {
			slog.Error("timewarp: warp draw failed", "eye", eye, "vsync", vsyncBase, "error", err, "total", n)
		}
	}

	issued := c.clock.Now()
	c.eyeLog.record(EyeLogEntry{
		Vsync:       vsyncBase,
		Eye:         eye,
		Sequence:    src.Sequence,
		Skipped:     late,
		Placeholder: src.Placeholder,
		IssueFinish: issued - vsyncTime,
		PoseLatency: stop - issued,
	})
}

// programFor selects the warp program variant for src.
// Chromatic correction is dropped when the source, the configuration or
// power throttling disables it.
func (c *compositor) programFor(src WarpSource) ProgramID {
	effect := src.Parms.Effect
	if src.Placeholder || effect < 0 || effect >= effectCount {
		effect = EffectSimple
	}
	chromatic := !src.DisableChromaticCorrection && !c.cfg.DisableChromatic && !c.throttled.Get()
	return ProgramID{Effect: effect, Chromatic: chromatic}
}

// SetTopology switches the swap program (mode control surface).
func (c *compositor) SetTopology(t swapprog.Topology) {
	c.topologyMu.Lock()
	defer c.topologyMu.Unlock()

	c.topology.Set(t)
	slog.Info("timewarp: topology changed", "topology", t.Name())
}

// SwapProgram returns the program currently in effect.
func (c *compositor) SwapProgram() swapprog.SwapProgram {
	return c.cfg.Programs.Select(c.topology.Get())
}

// SetThrottled enables power throttling: chromatic correction off and at
// least two vsyncs per frame.
func (c *compositor) SetThrottled(on bool) {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()

	if c.throttled.Get() == on {
		return
	}
	c.throttled.Set(on)
	slog.Info("timewarp: power throttling changed", "throttled", on)
}

// SwapState returns the state published for the last composited vsync.
func (c *compositor) SwapState() SwapState {
	return c.swapState.Get()
}

// ThreadID returns the compositor OS thread id (0 before Start or where
// unsupported), for external real-time priority configuration.
func (c *compositor) ThreadID() int {
	c.startedMu.Lock()
	defer c.startedMu.Unlock()
	if c.thread == nil {
		return 0
	}
	return c.thread.ID()
}

// SessionID identifies this compositor instance in logs and telemetry.
func (c *compositor) SessionID() string {
	return c.sessionID
}

func (c *compositor) setState(s State) {
	c.state.Store(int32(s))
}
