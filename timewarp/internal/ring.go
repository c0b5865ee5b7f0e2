package internal

import "github.com/e7canasta/hmd-timewarp/lockless"

// Ring is a fixed arena of RingSize warp source slots addressed by
// eyeBufferCount % RingSize.
//
// Ownership:
//   - Submit: producer thread only (single writer of slots and count)
//   - LatestReady, Count: compositor (any reader)
//
// Handoff: a slot is written before the incremented count is published, so
// a reader that observes count n only ever sees fully written sources up to
// n. Readers re-check Sequence to detect a slot that wrapped meanwhile.
type Ring struct {
	slots [RingSize]lockless.Cell[WarpSource]
	count lockless.Cell[int64] // eyeBufferCount

	placeholder WarpSource
}

// NewRing creates an empty ring whose placeholder shows the given texture.
func NewRing(placeholder TextureID) *Ring {
	r := &Ring{}
	for eye := range r.placeholder.Parms.Eyes {
		r.placeholder.Parms.Eyes[eye].Layers[0].Image = placeholderImage(placeholder)
	}
	r.placeholder.Placeholder = true
	return r
}

// Submit stores src in the next slot and publishes the new eyeBufferCount.
// Returns the assigned sequence. Producer-only.
//
// If the producer bypasses backpressure, the oldest slot is simply
// overwritten (stale but bounded).
func (r *Ring) Submit(src WarpSource) int64 {
	seq := r.count.Get() + 1
	src.Sequence = seq
	src.Placeholder = false

	r.slots[seq%RingSize].Set(src)
	r.count.Set(seq)
	return seq
}

// Count returns the published eyeBufferCount.
func (r *Ring) Count() int64 {
	return r.count.Get()
}

// Slot returns the source currently stored for sequence seq, if it has not
// been overwritten.
func (r *Ring) Slot(seq int64) (WarpSource, bool) {
	if seq <= 0 {
		return WarpSource{}, false
	}
	src := r.slots[seq%RingSize].Get()
	return src, src.Sequence == seq
}

// LatestReady returns the newest source displayable at vsync v.
//
// Algorithm:
//  1. Scan back from the newest published sequence, at most RingSize-1 slots
//     (the slot after them may be in the middle of being rewritten)
//  2. Skip a slot that wrapped (Sequence mismatch)
//  3. Skip a source submitted during v or later (MinimumVsync >= v): it
//     would race its own flip
//  4. Skip a source whose fence has not signaled (GPU still rendering)
//  5. Return the first remaining source
//
// If none qualifies, returns the placeholder with ok=false.
func (r *Ring) LatestReady(v int64) (src WarpSource, ok bool) {
	newest := r.count.Get()

	for back := int64(0); back < RingSize-1; back++ {
		seq := newest - back
		if seq <= 0 {
			break
		}

		cand := r.slots[seq%RingSize].Get()
		if cand.Sequence != seq {
			continue
		}
		if cand.MinimumVsync >= v {
			continue
		}
		if cand.Fence != nil && !cand.Fence.IsSignaled() {
			continue
		}
		return cand, true
	}

	return r.placeholder, false
}

// Placeholder returns the black/loading source.
func (r *Ring) Placeholder() WarpSource {
	return r.placeholder
}
