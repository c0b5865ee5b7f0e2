package latchbus

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Latch, 4)
	if err := bus.Subscribe("capture", ch, Filter{}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(Latch{VsyncCount: 12, EyeBufferCount: 3})

	select {
	case got := <-ch:
		if got.VsyncCount != 12 || got.EyeBufferCount != 3 {
			t.Errorf("Unexpected latch %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for latch")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full channel.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Latch, 1)
	bus.Subscribe("slow", ch, Filter{})

	done := make(chan struct{})
	go func() {
		bus.Publish(Latch{VsyncCount: 1})
		bus.Publish(Latch{VsyncCount: 2}) // dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if got := <-ch; got.VsyncCount != 1 {
		t.Errorf("Expected vsync 1, got %d", got.VsyncCount)
	}

	stats := bus.Stats().Subscribers["slow"]
	if stats.Delivered != 1 || stats.Dropped != 1 {
		t.Errorf("Expected 1 delivered / 1 dropped, got %+v", stats)
	}
}

// TestWindowCoalescesUnreadLatches verifies a slow window reader gets one
// summary of everything it missed.
//
// Scenario (vsyncs 10..15):
//
//	10 placeholder, 11 seq 1, 12 seq 1 (stale repeat), 13 seq 3 (skipped 1),
//	14 seq 4, 15 seq 4
//
// Expected window: 6 latches from vsync 10, latest 15, 3 new frames,
// 1 placeholder, 1 skipped submission.
func TestWindowCoalescesUnreadLatches(t *testing.T) {
	bus := New()
	defer bus.Close()

	rx, err := bus.SubscribeWindow("telemetry", Filter{})
	if err != nil {
		t.Fatalf("SubscribeWindow failed: %v", err)
	}

	if _, ok := rx.TryReceive(); ok {
		t.Error("Expected nothing before first publish")
	}

	for _, l := range []Latch{
		{VsyncCount: 10, Placeholder: true},
		{VsyncCount: 11, EyeBufferCount: 1},
		{VsyncCount: 12, EyeBufferCount: 1},
		{VsyncCount: 13, EyeBufferCount: 3, Skipped: 1},
		{VsyncCount: 14, EyeBufferCount: 4},
		{VsyncCount: 15, EyeBufferCount: 4},
	} {
		bus.Publish(l)
	}

	w, ok := rx.Receive()
	if !ok {
		t.Fatal("Expected a window")
	}
	want := Window{
		Latest:       Latch{VsyncCount: 15, EyeBufferCount: 4},
		FirstVsync:   10,
		Latches:      6,
		NewFrames:    3,
		Placeholders: 1,
		Skipped:      1,
	}
	if w != want {
		t.Errorf("Window = %+v, want %+v", w, want)
	}
	if w.Vsyncs() != 6 {
		t.Errorf("Expected 6 vsyncs covered, got %d", w.Vsyncs())
	}

	if _, ok := rx.TryReceive(); ok {
		t.Error("Expected an empty window after Receive")
	}

	// The next window compares against seq 4 from the previous one.
	bus.Publish(Latch{VsyncCount: 16, EyeBufferCount: 4})
	w, _ = rx.TryReceive()
	if w.Latches != 1 || w.NewFrames != 0 {
		t.Errorf("Expected a single stale repeat, got %+v", w)
	}

	stats := bus.Stats().Subscribers["telemetry"]
	if stats.Delivered != 7 || stats.Coalesced != 5 {
		t.Errorf("Expected 7 delivered / 5 coalesced, got %+v", stats)
	}
	t.Logf("✅ window: %+v", want)
}

// TestFilters verifies per-subscriber selection.
func TestFilters(t *testing.T) {
	bus := New()
	defer bus.Close()

	session := make(chan Latch, 16)
	fresh := make(chan Latch, 16)
	decimated := make(chan Latch, 16)
	bus.Subscribe("session", session, Filter{SessionID: "a"})
	bus.Subscribe("fresh", fresh, Filter{NewFramesOnly: true})
	bus.Subscribe("decimated", decimated, Filter{Every: 2})

	for _, l := range []Latch{
		{SessionID: "a", VsyncCount: 1, EyeBufferCount: 0, Placeholder: true},
		{SessionID: "a", VsyncCount: 2, EyeBufferCount: 0, Placeholder: true},
		{SessionID: "a", VsyncCount: 3, EyeBufferCount: 1},
		{SessionID: "b", VsyncCount: 1, EyeBufferCount: 1},
		{SessionID: "a", VsyncCount: 4, EyeBufferCount: 1},
		{SessionID: "a", VsyncCount: 5, EyeBufferCount: 2},
	} {
		bus.Publish(l)
	}

	vsyncs := func(ch chan Latch) []int64 {
		var out []int64
		for len(ch) > 0 {
			out = append(out, (<-ch).VsyncCount)
		}
		return out
	}

	tests := []struct {
		name string
		ch   chan Latch
		want []int64
	}{
		{"session", session, []int64{1, 2, 3, 4, 5}},
		{"fresh", fresh, []int64{1, 3, 5}},
		{"decimated", decimated, []int64{2, 4}},
	}
	for _, tt := range tests {
		got := vsyncs(tt.ch)
		if len(got) != len(tt.want) {
			t.Errorf("%s: got vsyncs %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got vsyncs %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}

	// Session b's first latch repeats seq 1 from session a's previous one.
	if f := bus.Stats().Subscribers["fresh"].Filtered; f != 3 {
		t.Errorf("Expected 3 repeats filtered, got %d", f)
	}
}

// TestOutOfOrderRejected verifies each session's vsync must advance.
func TestOutOfOrderRejected(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Latch, 8)
	bus.Subscribe("capture", ch, Filter{})

	bus.Publish(Latch{SessionID: "a", VsyncCount: 5})
	bus.Publish(Latch{SessionID: "a", VsyncCount: 5}) // duplicate
	bus.Publish(Latch{SessionID: "a", VsyncCount: 4}) // backwards
	bus.Publish(Latch{SessionID: "b", VsyncCount: 1}) // new session starts low
	bus.Publish(Latch{SessionID: "a", VsyncCount: 6})

	stats := bus.Stats()
	if stats.TotalPublished != 3 || stats.OutOfOrder != 2 {
		t.Errorf("Expected 3 published / 2 out of order, got %+v", stats)
	}
	if len(ch) != 3 {
		t.Errorf("Expected 3 delivered, got %d", len(ch))
	}
}

// TestReceiveBlocksUntilNewLatch verifies Receive waits for a latch and
// wakes on Close.
func TestReceiveBlocksUntilNewLatch(t *testing.T) {
	bus := New()

	rx, _ := bus.SubscribeWindow("capture", Filter{})
	bus.Publish(Latch{VsyncCount: 1})
	rx.Receive()

	var wg sync.WaitGroup
	wg.Add(1)
	var got Window
	go func() {
		defer wg.Done()
		got, _ = rx.Receive()
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Publish(Latch{VsyncCount: 2})
	wg.Wait()

	if got.Latest.VsyncCount != 2 || got.Latches != 1 {
		t.Errorf("Expected a window with vsync 2, got %+v", got)
	}

	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = rx.Receive()
	}()
	time.Sleep(10 * time.Millisecond)
	bus.Close()
	wg.Wait()

	if ok {
		t.Error("Expected ok=false after Close")
	}
}

func TestSubscribeErrors(t *testing.T) {
	bus := New()

	ch := make(chan Latch, 1)
	if err := bus.Subscribe("a", ch, Filter{}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe("a", ch, Filter{}); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if _, err := bus.SubscribeWindow("a", Filter{}); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if err := bus.Subscribe("b", nil, Filter{}); !errors.Is(err, ErrNilChannel) {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
	if err := bus.Unsubscribe("missing"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}
	if err := bus.Unsubscribe("a"); err != nil {
		t.Errorf("Unsubscribe failed: %v", err)
	}

	bus.Close()
	bus.Close() // idempotent

	if err := bus.Subscribe("c", ch, Filter{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	bus.Publish(Latch{VsyncCount: 1}) // no-op after close
}

// TestConcurrentPublish runs publishers against subscribe/unsubscribe churn.
func TestConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 5000; i++ {
			bus.Publish(Latch{VsyncCount: int64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			ch := make(chan Latch, 1)
			bus.Subscribe("churn", ch, Filter{NewFramesOnly: true})
			bus.Unsubscribe("churn")
			rx, err := bus.SubscribeWindow("window", Filter{})
			if err == nil {
				rx.TryReceive()
				bus.Unsubscribe("window")
			}
		}
	}()
	wg.Wait()

	if got := bus.Stats().TotalPublished; got != 5000 {
		t.Errorf("Expected 5000 published, got %d", got)
	}
}
