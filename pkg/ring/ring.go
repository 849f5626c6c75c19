// Package ring provides a fixed-capacity FIFO buffer that drops the oldest
// entry once full. The hub's event, interaction and watched-event stores are
// all instances of it.
//
// A Ring is not safe for concurrent use; owners guard it with their own
// locks.
package ring

// Ring is a bounded buffer over values of type T.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest entry
	size int
}

// New returns a ring holding at most capacity entries. Capacities below one
// are coerced to one so Push always succeeds.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// ToSlice returns the buffered entries oldest-first in a freshly allocated
// slice. Mutating the result never affects the ring.
func (r *Ring[T]) ToSlice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len reports how many entries are currently buffered.
func (r *Ring[T]) Len() int { return r.size }

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Clear drops all entries and releases the values they referenced.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
