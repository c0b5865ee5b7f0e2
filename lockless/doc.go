// Package lockless is the cross-thread handoff primitive of the compositor.
//
// Philosophy: "Latest value wins, readers never wait."
//
// Design:
//   - Two storage slots plus begin/end sequence counters (seqlock layout)
//   - Set() and Get() never block
//   - Slots hold immutable boxed values, so a read is never torn
//   - Bounded read retries with a fallback path
//
// Contract:
//   - Exactly ONE goroutine calls Set at a time (serialize writers with a mutex)
//   - Any number of goroutines may call Get concurrently with Set
//   - Zero value is ready to use: Get returns the zero T before the first Set
//
// Every value shared between the render thread, the compositor thread and
// the sensor thread (vsync estimate, fused sensor sample, swap state, ring
// slots, shutdown flag) is published through a Cell.
//
// Example:
//
//	var state lockless.Cell[SwapState]
//
//	// compositor thread (single writer)
//	state.Set(SwapState{VsyncCount: 12, EyeBufferCount: 3})
//
//	// any thread
//	s := state.Get()
package lockless
