// Package swapprog maps a display/threading topology to the per-eye timing
// of the compositor (swap program).
//
// A swap program says, in fractions of a vsync interval, when each eye may
// be warped (DeltaVsync) and when that eye's pixels become visible
// (PredictionPoints). The values depend on the panel (front-buffer vs.
// swapped rendering, portrait scanout) and are tuned empirically, so they
// are data: a Table with the shipped defaults that configuration can
// override.
package swapprog

import (
	"errors"
	"fmt"
)

// ErrInvalidProgram is returned by Validate for an unusable program row.
var ErrInvalidProgram = errors.New("swapprog: invalid swap program")

// SwapProgram is the timing of one compositor topology. Immutable.
type SwapProgram struct {
	// SingleThread: both eyes are warped back to back in the same vsync,
	// then presented (synchronous). When false the eyes are warped half a
	// vsync apart, following the scanout beam (asynchronous).
	SingleThread bool

	// DualMonoDisplay: the same (eye 0) image is shown to both eyes.
	DualMonoDisplay bool

	// DeltaVsync[eye] is the fraction of the vsync interval that must have
	// scanned out before warping eye begins.
	DeltaVsync [2]float64

	// PredictionPoints[eye] holds the [start, stop] times, in vsyncs after
	// the vsync base, at which that eye's pixels become visible.
	PredictionPoints [2][2]float64
}

// Topology describes the display and threading configuration.
type Topology struct {
	SingleThread    bool // synchronous swap program
	DualMonoDisplay bool // mono content on both eyes
	FrontBuffer     bool // rendering directly to the scanned-out buffer
}

// Table holds the four program rows selected by topology.
type Table struct {
	AsyncFrontBuffer   SwapProgram
	AsyncSwappedBuffer SwapProgram
	SyncFrontBuffer    SwapProgram
	SyncSwappedBuffer  SwapProgram
}

// DefaultTable returns the shipped timing for portrait-scanned panels.
//
//	program              single  delta       prediction points
//	async front buffer   false   {0.5, 1.0}  {{1.0, 1.5}, {1.5, 2.0}}
//	async swapped buffer false   {0.0, 0.5}  {{1.0, 1.5}, {1.5, 2.0}}
//	sync front buffer    true    {0.5, 1.0}  {{1.0, 1.5}, {1.5, 2.0}}
//	sync swapped buffer  true    {0.0, 0.0}  {{2.0, 2.5}, {2.5, 3.0}}
func DefaultTable() Table {
	return Table{
		AsyncFrontBuffer: SwapProgram{
			DeltaVsync:       [2]float64{0.5, 1.0},
			PredictionPoints: [2][2]float64{{1.0, 1.5}, {1.5, 2.0}},
		},
		AsyncSwappedBuffer: SwapProgram{
			DeltaVsync:       [2]float64{0.0, 0.5},
			PredictionPoints: [2][2]float64{{1.0, 1.5}, {1.5, 2.0}},
		},
		SyncFrontBuffer: SwapProgram{
			SingleThread:     true,
			DeltaVsync:       [2]float64{0.5, 1.0},
			PredictionPoints: [2][2]float64{{1.0, 1.5}, {1.5, 2.0}},
		},
		SyncSwappedBuffer: SwapProgram{
			SingleThread:     true,
			DeltaVsync:       [2]float64{0.0, 0.0},
			PredictionPoints: [2][2]float64{{2.0, 2.5}, {2.5, 3.0}},
		},
	}
}

// Select returns the program for topology t. Pure function.
func (tb Table) Select(t Topology) SwapProgram {
	var p SwapProgram
	switch {
	case t.FrontBuffer && t.SingleThread:
		p = tb.SyncFrontBuffer
	case t.FrontBuffer:
		p = tb.AsyncFrontBuffer
	case t.SingleThread:
		p = tb.SyncSwappedBuffer
	default:
		p = tb.AsyncSwappedBuffer
	}
	p.DualMonoDisplay = t.DualMonoDisplay
	return p
}

// Select returns the default-table program for topology t.
func Select(t Topology) SwapProgram {
	return DefaultTable().Select(t)
}

// Validate checks every row of the table.
func (tb Table) Validate() error {
	rows := []struct {
		name   string
		p      SwapProgram
		single bool
	}{
		{"async_front_buffer", tb.AsyncFrontBuffer, false},
		{"async_swapped_buffer", tb.AsyncSwappedBuffer, false},
		{"sync_front_buffer", tb.SyncFrontBuffer, true},
		{"sync_swapped_buffer", tb.SyncSwappedBuffer, true},
	}
	for _, r := range rows {
		if r.p.SingleThread != r.single {
			return fmt.Errorf("%w: %s: single_thread must be %v", ErrInvalidProgram, r.name, r.single)
		}
		if err := r.p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
	return nil
}

// Validate checks one program.
//
// Constraints:
//   - 0 <= DeltaVsync[0] <= DeltaVsync[1] <= 1 (eyes are warped in order,
//     within one vsync interval)
//   - 0 <= start <= stop for every prediction point pair
//   - each eye's pixels become visible after it is warped (start >= delta)
func (p SwapProgram) Validate() error {
	d := p.DeltaVsync
	if d[0] < 0 || d[1] > 1 || d[0] > d[1] {
		return fmt.Errorf("%w: delta_vsync %v must satisfy 0 <= d0 <= d1 <= 1", ErrInvalidProgram, d)
	}
	for eye, pp := range p.PredictionPoints {
		if pp[0] < 0 || pp[0] > pp[1] {
			return fmt.Errorf("%w: eye %d prediction points %v must satisfy 0 <= start <= stop",
				ErrInvalidProgram, eye, pp)
		}
		if pp[0] < d[eye] {
			return fmt.Errorf("%w: eye %d prediction start %.2f precedes its warp at %.2f",
				ErrInvalidProgram, eye, pp[0], d[eye])
		}
	}
	return nil
}

// Name returns a short label for logs and telemetry.
func (t Topology) Name() string {
	buffer := "swapped"
	if t.FrontBuffer {
		buffer = "front"
	}
	mode := "async"
	if t.SingleThread {
		mode = "sync"
	}
	name := mode + "_" + buffer
	if t.DualMonoDisplay {
		name += "_mono"
	}
	return name
}
