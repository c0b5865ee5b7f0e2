package internal

import "testing"

// TestRingEmptyReturnsPlaceholder verifies an empty ring yields the
// placeholder and never blocks.
func TestRingEmptyReturnsPlaceholder(t *testing.T) {
	r := NewRing(7)

	src, ok := r.LatestReady(100)
	if ok {
		t.Fatal("Expected ok=false on empty ring")
	}
	if !src.Placeholder {
		t.Error("Expected placeholder source")
	}
	if got := src.Parms.Eyes[1].Layers[0].Image.Texture; got != 7 {
		t.Errorf("Expected placeholder texture 7, got %d", got)
	}
	if r.Count() != 0 {
		t.Errorf("Expected count 0, got %d", r.Count())
	}
}

// TestRingSubmitAssignsSequence verifies sequences are 1-based and
// slots are addressed by sequence modulo RingSize.
func TestRingSubmitAssignsSequence(t *testing.T) {
	r := NewRing(0)

	for i := int64(1); i <= 10; i++ {
		seq := r.Submit(WarpSource{MinimumVsync: i, Placeholder: true})
		if seq != i {
			t.Fatalf("Submit #%d returned seq %d", i, seq)
		}
		got, ok := r.Slot(seq)
		if !ok || got.MinimumVsync != i || got.Placeholder {
			t.Fatalf("Slot(%d) = %+v ok=%v", seq, got, ok)
		}
	}

	if _, ok := r.Slot(10 - RingSize); ok {
		t.Error("Expected overwritten slot to report ok=false")
	}
	t.Logf("✅ 10 submissions, count=%d", r.Count())
}

// TestRingLatestReadyExcludesCurrentVsync verifies a source stamped with
// vsync v is never displayed during v.
func TestRingLatestReadyExcludesCurrentVsync(t *testing.T) {
	r := NewRing(0)
	r.Submit(WarpSource{MinimumVsync: 10})
	r.Submit(WarpSource{MinimumVsync: 11})

	tests := []struct {
		vsync   int64
		wantSeq int64
		wantOK  bool
	}{
		{10, 0, false},
		{11, 1, true},
		{12, 2, true},
		{50, 2, true},
	}
	for _, tt := range tests {
		src, ok := r.LatestReady(tt.vsync)
		if ok != tt.wantOK || src.Sequence != tt.wantSeq {
			t.Errorf("LatestReady(%d) = seq %d ok=%v, want seq %d ok=%v",
				tt.vsync, src.Sequence, ok, tt.wantSeq, tt.wantOK)
		}
	}
}

// TestRingLatestReadySkipsUnsignaledFence verifies GPU-incomplete sources
// fall back to the newest completed one.
func TestRingLatestReadySkipsUnsignaledFence(t *testing.T) {
	r := NewRing(0)

	done := &fakeFence{}
	done.signaled.Store(true)
	pending := &fakeFence{}

	r.Submit(WarpSource{MinimumVsync: 1, Fence: done})
	r.Submit(WarpSource{MinimumVsync: 2, Fence: pending})

	src, ok := r.LatestReady(5)
	if !ok || src.Sequence != 1 {
		t.Fatalf("Expected fallback to seq 1, got seq %d ok=%v", src.Sequence, ok)
	}

	pending.signaled.Store(true)
	src, _ = r.LatestReady(5)
	if src.Sequence != 2 {
		t.Errorf("Expected seq 2 after signal, got %d", src.Sequence)
	}
}

// TestRingLatestReadyScanDepth verifies only the newest RingSize-1 slots
// are considered.
func TestRingLatestReadyScanDepth(t *testing.T) {
	r := NewRing(0)

	done := &fakeFence{}
	done.signaled.Store(true)
	r.Submit(WarpSource{MinimumVsync: 1, Fence: done})
	for i := 0; i < RingSize-1; i++ {
		r.Submit(WarpSource{MinimumVsync: 2, Fence: &fakeFence{}})
	}

	if src, ok := r.LatestReady(10); ok {
		t.Errorf("Expected placeholder (oldest slot out of scan range), got seq %d", src.Sequence)
	}
}
