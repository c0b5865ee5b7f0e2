package lockless

import "sync/atomic"

// maxReadRetries bounds the reader loop.
//
// With a single writer one retry is enough to observe a completed Set.
// The extra headroom covers a writer that publishes several values while
// the reader is descheduled. After the bound the reader falls back to the
// slot indexed by the end counter, which always holds a completed value.
const maxReadRetries = 4

type box[T any] struct {
	v T
}

// Cell publishes the latest value of T from one writer to many readers.
type Cell[T any] struct {
	begin atomic.Uint64 // incremented before a slot write
	end   atomic.Uint64 // incremented after a slot write

	slots [2]atomic.Pointer[box[T]]

	fallbacks atomic.Uint64 // reads that exhausted maxReadRetries
}

// Set publishes v (single writer).
//
// Algorithm:
//  1. Increment begin (announces write n+1)
//  2. Store into slot (n+1)&1, the slot readers of version n do not use
//  3. Increment end (write n+1 complete)
func (c *Cell[T]) Set(v T) {
	seq := c.begin.Add(1)
	c.slots[seq&1].Store(&box[T]{v: v})
	c.end.Store(seq)
}

// Get returns the most recently completed Set, or a newer one.
//
// Algorithm:
//  1. Read end, take the slot it points at
//  2. Re-validate against begin: equal means no write started meanwhile
//  3. Otherwise a write is in flight; retry (bounded)
//  4. Fallback: return the value read from the end-indexed slot
//
// Never blocks. Returns the zero T if Set was never called.
func (c *Cell[T]) Get() T {
	var b *box[T]
	for i := 0; i < maxReadRetries; i++ {
		end := c.end.Load()
		b = c.slots[end&1].Load()
		if c.begin.Load() == end {
			return unbox(b)
		}
	}

	c.fallbacks.Add(1)
	return unbox(c.slots[c.end.Load()&1].Load())
}

// Version returns the number of completed Set calls.
// Readers use it to detect whether anything was ever published.
func (c *Cell[T]) Version() uint64 {
	return c.end.Load()
}

// Fallbacks returns how many reads exhausted the retry bound.
// Expected ~0; non-zero indicates a writer publishing at very high rate.
func (c *Cell[T]) Fallbacks() uint64 {
	return c.fallbacks.Load()
}

func unbox[T any](b *box[T]) T {
	if b == nil {
		var zero T
		return zero
	}
	return b.v
}
