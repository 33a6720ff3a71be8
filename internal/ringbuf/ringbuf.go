// Package ringbuf provides a lock-free single-producer single-consumer ring
// buffer. The live service uses it between the WebSocket bar feed and the
// structure engine so a slow engine never stalls the socket reader.
package ringbuf

import (
	"context"
	"sync/atomic"
	"time"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer. Size is a power of two for bitwise modulo.
type Ring[T any] struct {
	buf  []T
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two,
// minimum 2.
func New[T any](capacity int) *Ring[T] {
	n := max(nextPow2(capacity), 2)
	return &Ring[T]{
		buf:  make([]T, n),
		mask: uint64(n - 1),
	}
}

// Push appends v. Returns false, and counts an overflow, if the ring is full.
func (r *Ring[T]) Push(v T) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest value. Returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return zero, false
	}
	v := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// Drain pops values into out until ctx is done, sleeping idle between empty
// polls. It is the consumer side; only one goroutine may call it.
func (r *Ring[T]) Drain(ctx context.Context, out chan<- T, idle time.Duration) {
	for {
		v, ok := r.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of pushes dropped on a full buffer.
func (r *Ring[T]) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
