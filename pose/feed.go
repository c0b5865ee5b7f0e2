package pose

import (
	"sync/atomic"

	"github.com/e7canasta/hmd-timewarp/lockless"
)

// Source yields the latest fused sensor sample.
//
// ok is false until the source has produced its first sample.
// Implementations must be safe for concurrent callers and must not block.
type Source interface {
	LatestFusedSample() (s Sample, ok bool)
}

// Feed is a push-based Source backed by a lockless.Cell.
//
// The sensor-fusion goroutine calls Push (single writer); the predictor reads
// from any goroutine without locks.
type Feed struct {
	latest lockless.Cell[Sample]
	pushed atomic.Uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{}
}

// Push publishes a new fused sample (single writer).
func (f *Feed) Push(s Sample) {
	f.latest.Set(s)
	f.pushed.Add(1)
}

// LatestFusedSample implements Source.
func (f *Feed) LatestFusedSample() (Sample, bool) {
	if f.latest.Version() == 0 {
		return Sample{}, false
	}
	return f.latest.Get(), true
}

// Pushed returns the number of samples published.
func (f *Feed) Pushed() uint64 {
	return f.pushed.Load()
}
