package internal

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/swapprog"
)

var (
	// ErrAlreadyStarted is returned by Start on a running compositor.
	ErrAlreadyStarted = errors.New("timewarp: compositor already started")

	// ErrWrongThread is returned by WarpSwap called from a thread other than
	// the bound producer thread.
	ErrWrongThread = errors.New("timewarp: WarpSwap called from wrong thread")

	// ErrNoRenderer is returned by New when a required collaborator is missing.
	ErrNoRenderer = errors.New("timewarp: renderer, gpu, estimator and predictor are required")
)

const (
	// RingSize is the number of warp source slots (>= 1 + frames of overlap).
	RingSize = 4

	// MaxLayers is the number of image layers per eye (scene + overlay).
	MaxLayers = 2

	// maxExternalVelocitySteps bounds how many vsyncs of external velocity
	// are applied to a source that keeps being re-displayed.
	maxExternalVelocitySteps = 3

	// flushRepeats is the number of submissions made by OptionFlush.
	flushRepeats = 3
)

// TextureID is an opaque GPU texture handle. Zero means "no texture".
type TextureID uint32

// Fence is a GPU completion fence, created on the producer's context and
// waitable from the compositor's context.
type Fence interface {
	// IsSignaled polls without blocking.
	IsSignaled() bool

	// Wait blocks until signaled or timeout. Returns true if signaled.
	Wait(timeout time.Duration) bool

	// Release frees the fence. Called once its ring slot is overwritten.
	Release()
}

// GPU creates fences in the calling thread's command stream.
type GPU interface {
	CreateFence() (Fence, error)
}

// Renderer issues the warp draws on the compositor's GPU context.
type Renderer interface {
	// PrepareProgram compiles a warp program. Called for every program
	// variant at Start, never mid-session.
	PrepareProgram(id ProgramID) error

	// DrawEye warps one eye.
	DrawEye(cmd EyeDraw) error

	// Present finishes the vsync (swap for swapped-buffer programs, flush
	// for front-buffer programs).
	Present(vsync int64) error
}

// Effect selects the warp shader family.
type Effect int

const (
	EffectSimple       Effect = iota // one layer
	EffectMaskedPlane                // overlay plane blended through a mask
	EffectOverlayPlane               // overlay plane blended by alpha
	EffectCursor                     // scene plus a gaze cursor
	effectCount
)

func (e Effect) String() string {
	switch e {
	case EffectSimple:
		return "simple"
	case EffectMaskedPlane:
		return "masked_plane"
	case EffectOverlayPlane:
		return "overlay_plane"
	case EffectCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// ProgramID identifies one prepared warp program variant.
type ProgramID struct {
	Effect    Effect
	Chromatic bool // chromatic aberration correction
}

// WarpOption is a bitmask of per-submission options.
type WarpOption uint32

const (
	// OptionDisableChromatic warps without chromatic aberration correction.
	OptionDisableChromatic WarpOption = 1 << iota

	// OptionFlush submits the frame three times so it is displayed
	// immediately on the next vsyncs.
	OptionFlush

	// OptionDefaultImages replaces unsampleable eye images (no texture,
	// undefined or depth format, empty extent) with the black texture.
	OptionDefaultImages

	// OptionFixedOverlay keeps layer 1 locked to the face (no warp).
	OptionFixedOverlay
)

// EyeImage describes one eye texture. Format and Size must describe a
// sampleable color texture (see Sampleable).
type EyeImage struct {
	Texture TextureID
	Format  gputypes.TextureFormat
	Size    gputypes.Extent3D
}

// EyeLayer is one image layer of one eye as rendered by the application.
type EyeLayer struct {
	Image EyeImage

	// RenderPose is the orientation the layer was rendered with.
	RenderPose mgl64.Quat

	// FieldOfView is the symmetric field of view in degrees.
	FieldOfView float64

	// TexCoordsFromTanAngles maps tangent-angle space to texture
	// coordinates. Zero value: derived from FieldOfView.
	TexCoordsFromTanAngles mgl64.Mat4
}

// EyeParms is the per-eye render submission.
type EyeParms struct {
	Layers [MaxLayers]EyeLayer
}

// WarpParms is what the application submits once per frame.
type WarpParms struct {
	Eyes    [2]EyeParms
	Effect  Effect
	Options WarpOption

	// MinimumVsyncs is the number of vsyncs each frame stays on screen
	// (1 = full rate, 2 = half rate). Zero means 1.
	MinimumVsyncs int

	// ExternalVelocity is an extra rotation per vsync (e.g. joypad yaw),
	// applied to sources that keep being re-displayed. Zero value: none.
	ExternalVelocity mgl64.Quat
}

// WarpSource is one submitted set of eye buffers in the ring.
type WarpSource struct {
	// Sequence is the eyeBufferCount assigned at Submit (1-based).
	Sequence int64

	// MinimumVsync is the vsync count observed at submission. The source is
	// never displayed during that vsync.
	MinimumVsync int64

	DisableChromaticCorrection bool

	// Fence signals when the eye images are rendered. Nil = ready.
	Fence Fence

	Parms WarpParms

	// Placeholder marks the black/loading source shown before any
	// submission is ready.
	Placeholder bool
}

// SwapState is published by the compositor once per vsync.
type SwapState struct {
	VsyncCount     int64
	EyeBufferCount int64
}

// EyeDraw is one warp draw issued to the Renderer.
type EyeDraw struct {
	Eye       int
	VsyncBase int64
	Sequence  int64
	Program   ProgramID

	Images [MaxLayers]EyeImage

	// Warps[layer] holds the texture matrices at the start and stop
	// prediction points (rolling shutter interpolation), row-major.
	Warps [MaxLayers][2]f32.Mat4

	// Predicted is the sensor state at the stop prediction point.
	Predicted pose.SensorState

	Placeholder bool
}

// State is the compositor loop state.
type State int32

const (
	StateIdle State = iota
	StateWaitForPhase
	StateWarp
	StatePublish
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitForPhase:
		return "wait_for_phase"
	case StateWarp:
		return "warp"
	case StatePublish:
		return "publish"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures the compositor.
type Config struct {
	Topology swapprog.Topology
	Programs swapprog.Table

	// PhaseTimeout bounds each scan-phase wait.
	PhaseTimeout time.Duration

	// FenceTimeout bounds the producer's wait on the fence two submissions back.
	FenceTimeout time.Duration

	// PacingTimeout bounds the producer's wait for a vsync advance.
	PacingTimeout time.Duration

	// StrictThreadChecks panics on WarpSwap from the wrong thread
	// (development builds). Otherwise the call logs and returns ErrWrongThread.
	StrictThreadChecks bool

	// DisableChromatic turns chromatic correction off for every source.
	DisableChromatic bool

	// Throttled starts the compositor in power-throttled mode.
	Throttled bool

	// BlackTexture and LoadingTexture back the placeholder source.
	BlackTexture   TextureID
	LoadingTexture TextureID

	// PlaceholderLogEvery rate-limits the "no eye buffers" log.
	PlaceholderLogEvery uint64

	// ThreadPriority and ThreadCPUs configure the compositor thread.
	ThreadPriority int
	ThreadCPUs     []int
}

// DefaultConfig returns production defaults (async swapped-buffer program).
func DefaultConfig() Config {
	return Config{
		Programs:            swapprog.DefaultTable(),
		PhaseTimeout:        50 * time.Millisecond,
		FenceTimeout:        100 * time.Millisecond,
		PacingTimeout:       100 * time.Millisecond,
		PlaceholderLogEvery: 32,
	}
}
