// Package clock provides the monotonic time base shared by the vsync
// estimator, the pose predictor and the compositor.
//
// Times are absolute seconds on the system monotonic clock, the same base
// the display driver stamps vsync events with.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic seconds clock that can also sleep.
type Clock interface {
	// Now returns monotonic time in seconds.
	Now() float64

	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
}

// System is the real monotonic clock.
type System struct{}

// Now implements Clock.
func (System) Now() float64 {
	return monotonicSeconds()
}

// Sleep implements Clock.
func (System) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Seconds converts a duration to float seconds.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Duration converts float seconds to a duration.
func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Manual is a deterministic clock for tests.
//
// Sleep advances the clock by the requested duration instead of blocking,
// so a loop that paces itself with Sleep runs at full speed while still
// observing a consistent timeline.
type Manual struct {
	mu  sync.Mutex
	now float64
}

// NewManual creates a manual clock starting at start seconds.
func NewManual(start float64) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep implements Clock by advancing time.
func (m *Manual) Sleep(d time.Duration) {
	if d > 0 {
		m.Advance(d)
	}
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d.Seconds()
	m.mu.Unlock()
}

// Set moves the clock to t seconds. Going backwards is ignored.
func (m *Manual) Set(t float64) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}
