package latchbus

import "errors"

var (
	ErrBusClosed          = errors.New("latchbus: bus is closed")
	ErrSubscriberExists   = errors.New("latchbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("latchbus: subscriber not found")
	ErrNilChannel         = errors.New("latchbus: nil channel provided")
)

// Latch describes the warp source the compositor latched for one vsync.
type Latch struct {
	SessionID      string
	VsyncCount     int64
	EyeBufferCount int64 // sequence of the latched source (0 = none yet)
	Placeholder    bool  // black/loading placeholder was latched
	Skipped        int64 // submissions never displayed since the previous latch
	Textures       [2]uint32
	DisplayTime    float64 // predicted time the first eye becomes visible
}

// Filter selects the latches a subscriber sees. The zero value passes all.
type Filter struct {
	// SessionID restricts delivery to one compositor session.
	SessionID string

	// NewFramesOnly drops vsyncs that re-display the source latched at the
	// previous delivered vsync (stale repeats, placeholder streaks).
	NewFramesOnly bool

	// Every delivers only vsyncs where VsyncCount%Every == 0. 0 or 1 = all.
	Every int64
}

// Window folds every latch a coalescing subscriber did not read yet.
// Receiving a window empties it.
type Window struct {
	Latest       Latch // newest latch in the window
	FirstVsync   int64 // VsyncCount of the oldest latch in the window
	Latches      int   // latches folded in (>= 1 for a received window)
	NewFrames    int   // latches that showed a different source than the one before
	Placeholders int   // latches that showed the placeholder
	Skipped      int64 // submissions never displayed, summed
}

// Vsyncs returns the vsync span the window covers, including vsyncs the
// filter excluded.
func (w Window) Vsyncs() int64 {
	if w.Latches == 0 {
		return 0
	}
	return w.Latest.VsyncCount - w.FirstVsync + 1
}

// Receiver reads coalesced windows.
type Receiver interface {
	// Receive blocks until at least one latch is pending and returns the
	// window. ok is false once the receiver is closed.
	Receive() (w Window, ok bool)

	// TryReceive returns the pending window without blocking. ok is false
	// when nothing arrived since the last read.
	TryReceive() (w Window, ok bool)

	Close()
}

// SubscriberStats tracks delivery to one subscriber.
type SubscriberStats struct {
	Delivered uint64 // latches accepted by the subscriber
	Filtered  uint64 // latches rejected by its Filter
	Dropped   uint64 // channel subscribers: latches lost to a full channel
	Coalesced uint64 // window subscribers: latches folded into an unread window
}

// BusStats is a snapshot of the bus.
type BusStats struct {
	TotalPublished uint64
	OutOfOrder     uint64 // latches rejected for not advancing their session's vsync
	Subscribers    map[string]SubscriberStats
}

// Bus fans latches out to observers without ever blocking the publisher.
type Bus interface {
	// Subscribe delivers matching latches to ch. A full channel loses the
	// new latch.
	Subscribe(id string, ch chan<- Latch, f Filter) error

	// SubscribeWindow returns a receiver that coalesces matching latches
	// until read.
	SubscribeWindow(id string, f Filter) (Receiver, error)

	Publish(l Latch)
	Unsubscribe(id string) error
	Stats() BusStats
	Close()
}
