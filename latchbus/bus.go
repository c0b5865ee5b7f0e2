// Package latchbus distributes compositor latch events (which warp source
// was shown at which vsync) to observers: telemetry, frame capture,
// debugging tools.
//
// The compositor thread never waits on an observer. Channel subscribers
// lose latches when full; window subscribers fold unread latches into a
// summary, so a slow reader still learns how many frames, placeholders and
// skipped submissions it missed.
package latchbus

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	filter Filter

	delivered atomic.Uint64
	filtered  atomic.Uint64
	dropped   atomic.Uint64
	coalesced atomic.Uint64

	// lastSeq is the EyeBufferCount of the last accepted latch (publishMu).
	lastSeq  int64
	accepted bool

	ch     chan<- Latch  // channel subscribers
	window *windowHolder // window subscribers
}

// accept applies the filter. Called under publishMu.
func (s *subscriber) accept(l Latch) bool {
	f := s.filter
	if f.SessionID != "" && l.SessionID != f.SessionID {
		return false
	}
	if f.Every > 1 && l.VsyncCount%f.Every != 0 {
		return false
	}
	if f.NewFramesOnly && s.accepted && l.EyeBufferCount == s.lastSeq {
		return false
	}
	s.lastSeq, s.accepted = l.EyeBufferCount, true
	return true
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	// publishMu serializes publishers: ordering state and filter state.
	publishMu  sync.Mutex
	lastVsync  map[string]int64 // per session
	published  atomic.Uint64
	outOfOrder atomic.Uint64
}

// New creates a latch bus.
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriber),
		lastVsync:   make(map[string]int64),
	}
}

// Subscribe registers a channel subscriber.
func (b *bus) Subscribe(id string, ch chan<- Latch, f Filter) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{filter: f, ch: ch})
}

// SubscribeWindow registers a coalescing subscriber.
func (b *bus) SubscribeWindow(id string, f Filter) (Receiver, error) {
	s := &subscriber{filter: f, window: newWindowHolder()}
	if err := b.add(id, s); err != nil {
		return nil, err
	}
	return s.window, nil
}

func (b *bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Publish delivers l to every matching subscriber without blocking.
//
// A latch whose VsyncCount does not advance past the last one published
// for its session is rejected: each vsync is latched exactly once.
func (b *bus) Publish(l Latch) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if last, seen := b.lastVsync[l.SessionID]; seen && l.VsyncCount <= last {
		b.outOfOrder.Add(1)
		return
	}
	b.lastVsync[l.SessionID] = l.VsyncCount
	b.published.Add(1)

	for _, s := range b.subscribers {
		if !s.accept(l) {
			s.filtered.Add(1)
			continue
		}
		if s.window != nil {
			if s.window.fold(l) {
				s.coalesced.Add(1)
			}
			s.delivered.Add(1)
			continue
		}
		select {
		case s.ch <- l:
			s.delivered.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber and closes its receiver.
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.window != nil {
		s.window.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of delivery counters.
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make(map[string]SubscriberStats, len(b.subscribers))
	for id, s := range b.subscribers {
		subs[id] = SubscriberStats{
			Delivered: s.delivered.Load(),
			Filtered:  s.filtered.Load(),
			Dropped:   s.dropped.Load(),
			Coalesced: s.coalesced.Load(),
		}
	}
	return BusStats{
		TotalPublished: b.published.Load(),
		OutOfOrder:     b.outOfOrder.Load(),
		Subscribers:    subs,
	}
}

// Close shuts the bus down and wakes blocked receivers. Idempotent.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		if s.window != nil {
			s.window.Close()
		}
	}
	b.subscribers = nil
}

// windowHolder implements Receiver.
type windowHolder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending Window
	lastSeq int64 // EyeBufferCount of the previous folded latch
	folded  bool
	closed  bool
}

func newWindowHolder() *windowHolder {
	h := &windowHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// fold adds l to the pending window and reports whether the window already
// held an unread latch.
func (h *windowHolder) fold(l Latch) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	w := &h.pending
	coalesced := w.Latches > 0
	if !coalesced {
		w.FirstVsync = l.VsyncCount
	}
	w.Latest = l
	w.Latches++
	w.Skipped += l.Skipped
	if l.Placeholder {
		w.Placeholders++
	} else if !h.folded || l.EyeBufferCount != h.lastSeq {
		w.NewFrames++
	}
	h.lastSeq, h.folded = l.EyeBufferCount, true

	h.cond.Broadcast()
	return coalesced
}

// take returns and clears the pending window. Called with mu held.
func (h *windowHolder) take() Window {
	w := h.pending
	h.pending = Window{}
	return w
}

func (h *windowHolder) Receive() (Window, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.pending.Latches == 0 && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Window{}, false
	}
	return h.take(), true
}

func (h *windowHolder) TryReceive() (Window, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending.Latches == 0 || h.closed {
		return Window{}, false
	}
	return h.take(), true
}

func (h *windowHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
