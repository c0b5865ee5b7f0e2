package timewarp

import (
	"context"

	"github.com/e7canasta/hmd-timewarp/swapprog"
	"github.com/e7canasta/hmd-timewarp/timewarp/internal"
)

// Types re-exported from the internal package.
// See internal/types.go for full documentation.
type (
	Config          = internal.Config
	Deps            = internal.Deps
	TextureID       = internal.TextureID
	Fence           = internal.Fence
	GPU             = internal.GPU
	Renderer        = internal.Renderer
	Effect          = internal.Effect
	ProgramID       = internal.ProgramID
	WarpOption      = internal.WarpOption
	EyeImage        = internal.EyeImage
	EyeLayer        = internal.EyeLayer
	EyeParms        = internal.EyeParms
	WarpParms       = internal.WarpParms
	WarpSource      = internal.WarpSource
	SwapState       = internal.SwapState
	EyeDraw         = internal.EyeDraw
	State           = internal.State
	CompositorStats = internal.CompositorStats
	EyeLogEntry     = internal.EyeLogEntry
)

const (
	RingSize  = internal.RingSize
	MaxLayers = internal.MaxLayers

	EffectSimple       = internal.EffectSimple
	EffectMaskedPlane  = internal.EffectMaskedPlane
	EffectOverlayPlane = internal.EffectOverlayPlane
	EffectCursor       = internal.EffectCursor

	OptionDisableChromatic = internal.OptionDisableChromatic
	OptionFlush            = internal.OptionFlush
	OptionDefaultImages    = internal.OptionDefaultImages
	OptionFixedOverlay     = internal.OptionFixedOverlay
)

var (
	ErrAlreadyStarted = internal.ErrAlreadyStarted
	ErrWrongThread    = internal.ErrWrongThread
	ErrNoRenderer     = internal.ErrNoRenderer
)

// Compositor is the public interface of the time-warp compositor.
//
// Lifecycle: New() → Start() → BindProducerThread()/WarpSwap() → Stop()
//
// Implementation is in internal/compositor.go (hidden from clients).
type Compositor interface {
	// Start prepares all warp programs and spawns the pinned compositor
	// thread. Returns immediately.
	//
	// Returns ErrAlreadyStarted if running. Restartable after Stop.
	Start(ctx context.Context) error

	// Stop finishes the in-flight vsync, publishes the final SwapState and
	// joins the compositor thread. Producers blocked in WarpSwap return.
	//
	// Idempotent.
	Stop() error

	// BindProducerThread pins the calling goroutine to its OS thread and
	// makes it the only thread allowed to call WarpSwap. Without an
	// explicit bind, the first WarpSwap caller is bound.
	BindProducerThread() int

	// WarpSwap submits one frame of eye buffers.
	//
	// Blocks until the GPU has finished the frame two submissions back and
	// the display has advanced MinimumVsyncs vsyncs, each wait bounded.
	//
	// Returns:
	//   - nil when not running (frame dropped, logged)
	//   - ErrWrongThread from a thread other than the bound one (panics
	//     with StrictThreadChecks)
	//
	// Thread-safety: producer thread only.
	WarpSwap(parms WarpParms) error

	// SwapState returns {vsyncCount, eyeBufferCount} of the last composited
	// vsync. Safe from any goroutine.
	SwapState() SwapState

	// SwapProgram returns the program for the current topology.
	SwapProgram() swapprog.SwapProgram

	// SetTopology switches the display/threading topology.
	SetTopology(t swapprog.Topology)

	// SetThrottled toggles power throttling (half rate, no chromatic
	// correction).
	SetThrottled(on bool)

	// ThreadID returns the compositor OS thread id (0 if unknown).
	ThreadID() int

	// SessionID identifies this compositor in logs and telemetry.
	SessionID() string

	// Stats returns an operational snapshot.
	Stats() CompositorStats

	// EyeLog returns up to n recent per-eye timing records, oldest first.
	EyeLog(n int) []EyeLogEntry
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return internal.DefaultConfig()
}

// New creates a compositor.
//
// Deps.Vsync, Deps.Predictor, Deps.GPU and Deps.Renderer are required
// (ErrNoRenderer otherwise). Deps.Clock defaults to the system monotonic
// clock. An invalid swap program table is rejected.
func New(cfg Config, deps Deps) (Compositor, error) {
	c, err := internal.NewCompositor(cfg, deps)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TexCoordsFromFOV returns the tangent-angle to texture-coordinate matrix
// for a symmetric field of view in degrees.
var TexCoordsFromFOV = internal.TexCoordsFromFOV
