package internal

import "sync"

// vsyncLatch wakes producers waiting for the next SwapState.
//
// Design:
//   - Waiters take the current channel, then re-check their condition
//   - broadcast closes the channel and installs a fresh one
//   - The compositor only TryLocks: it never blocks on a producer. A missed
//     broadcast is recovered by the waiter's per-vsync poll.
type vsyncLatch struct {
	mu *sync.Mutex
	ch *chan struct{}
}

func newVsyncLatch() vsyncLatch {
	ch := make(chan struct{})
	return vsyncLatch{mu: &sync.Mutex{}, ch: &ch}
}

// wait returns the channel closed by the next broadcast.
func (l vsyncLatch) wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.ch
}

// broadcast wakes all current waiters. Returns false if skipped because a
// waiter held the lock.
func (l vsyncLatch) broadcast() bool {
	if !l.mu.TryLock() {
		return false
	}
	close(*l.ch)
	next := make(chan struct{})
	*l.ch = next
	l.mu.Unlock()
	return true
}
