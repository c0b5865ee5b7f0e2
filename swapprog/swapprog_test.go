package swapprog

import (
	"errors"
	"testing"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		topology  Topology
		wantSync  bool
		wantDelta [2]float64
		wantStop  float64 // PredictionPoints[1][1]
	}{
		{"async swapped", Topology{}, false, [2]float64{0, 0.5}, 2.0},
		{"async front", Topology{FrontBuffer: true}, false, [2]float64{0.5, 1.0}, 2.0},
		{"sync front", Topology{FrontBuffer: true, SingleThread: true}, true, [2]float64{0.5, 1.0}, 2.0},
		{"sync swapped", Topology{SingleThread: true}, true, [2]float64{0, 0}, 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Select(tt.topology)

			if p.SingleThread != tt.wantSync {
				t.Errorf("SingleThread = %v, want %v", p.SingleThread, tt.wantSync)
			}
			if p.DeltaVsync != tt.wantDelta {
				t.Errorf("DeltaVsync = %v, want %v", p.DeltaVsync, tt.wantDelta)
			}
			if p.PredictionPoints[1][1] != tt.wantStop {
				t.Errorf("PredictionPoints[1][1] = %v, want %v", p.PredictionPoints[1][1], tt.wantStop)
			}
		})
	}
}

// TestSelectIsPure verifies selection depends only on topology.
func TestSelectIsPure(t *testing.T) {
	top := Topology{FrontBuffer: true, DualMonoDisplay: true}

	a := Select(top)
	b := Select(top)
	if a != b {
		t.Errorf("Select not deterministic: %+v vs %+v", a, b)
	}
	if !a.DualMonoDisplay {
		t.Error("DualMonoDisplay not propagated from topology")
	}
}

func TestDefaultTableValid(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Table)
	}{
		{"delta out of order", func(tb *Table) { tb.AsyncSwappedBuffer.DeltaVsync = [2]float64{0.6, 0.5} }},
		{"delta beyond one vsync", func(tb *Table) { tb.AsyncFrontBuffer.DeltaVsync = [2]float64{0.5, 1.5} }},
		{"negative prediction", func(tb *Table) { tb.SyncSwappedBuffer.PredictionPoints[0] = [2]float64{-1, 2} }},
		{"start after stop", func(tb *Table) { tb.SyncFrontBuffer.PredictionPoints[1] = [2]float64{2, 1.5} }},
		{"visible before warp", func(tb *Table) { tb.AsyncFrontBuffer.PredictionPoints[1] = [2]float64{0.5, 2} }},
		{"wrong mode", func(tb *Table) { tb.SyncFrontBuffer.SingleThread = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := DefaultTable()
			tt.mutate(&tb)

			err := tb.Validate()
			if !errors.Is(err, ErrInvalidProgram) {
				t.Errorf("Expected ErrInvalidProgram, got %v", err)
			}
		})
	}
}

func TestTopologyName(t *testing.T) {
	if got := (Topology{SingleThread: true, FrontBuffer: true, DualMonoDisplay: true}).Name(); got != "sync_front_mono" {
		t.Errorf("Name() = %q", got)
	}
	if got := (Topology{}).Name(); got != "async_swapped" {
		t.Errorf("Name() = %q", got)
	}
}
