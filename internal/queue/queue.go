// Package queue provides the bounded insertion-ordered buffers backing the
// exporter's log and span queues.
package queue // import "github.com/durastream/telemex/internal/queue"

import (
	"sync"
)

// Buffer is a mutex-guarded FIFO buffer with a soft capacity. Producers choose
// between two admission policies: Offer evicts the oldest element when the
// buffer is full, Add grows past capacity and leaves overflow handling to the
// caller (used by the critical span path, where overflow is relocated to the
// dead-letter file instead of dropped).
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// New creates a buffer with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{
		items:    make([]T, 0, min(capacity, 4096)),
		capacity: capacity,
	}
}

// Offer appends item, evicting the oldest element if the buffer is full.
// The evicted element is returned with ok=true.
func (b *Buffer[T]) Offer(item T) (evicted T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.capacity {
		evicted = b.items[0]
		b.items = append(b.items[:0], b.items[1:]...)
		b.items = append(b.items, item)
		return evicted, true
	}
	b.items = append(b.items, item)
	return evicted, false
}

// Add appends item unconditionally and returns the new length. The buffer may
// exceed its capacity until the caller relocates the overflow via PopChunk.
func (b *Buffer[T]) Add(item T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items)
}

// PopChunk removes and returns up to n of the oldest elements.
func (b *Buffer[T]) PopChunk(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.items) {
		n = len(b.items)
	}
	if n <= 0 {
		return nil
	}
	chunk := make([]T, n)
	copy(chunk, b.items[:n])
	b.items = append(b.items[:0], b.items[n:]...)
	return chunk
}

// Drain removes and returns all buffered elements in insertion order.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := make([]T, len(b.items))
	copy(out, b.items)
	b.items = b.items[:0]
	return out
}

// Items returns a copy of the buffered elements without removing them.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// PushFront prepends items ahead of the current contents, preserving their
// relative order. With bounded=true the result is trimmed back to capacity by
// dropping from the front, so the most recent elements win; the number of
// dropped elements is returned. With bounded=false nothing is ever dropped.
func (b *Buffer[T]) PushFront(items []T, bounded bool) (dropped int) {
	if len(items) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]T, 0, len(items)+len(b.items))
	merged = append(merged, items...)
	merged = append(merged, b.items...)
	if bounded && len(merged) > b.capacity {
		dropped = len(merged) - b.capacity
		merged = merged[dropped:]
	}
	b.items = merged
	return dropped
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Capacity returns the configured capacity.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}
