package types

import "sync"

// Deque is a thread-safe double-ended queue backed by a slice. It preserves
// insertion order, used to buffer events (pending ACKs, pending responses)
// that arrive before a listener has registered for them.
type Deque[T any] struct {
	mu   sync.Mutex
	data []T
}

// Append adds item to the end of the deque.
func (d *Deque[T]) Append(item T) {
	d.mu.Lock()
	d.data = append(d.data, item)
	d.mu.Unlock()
}

// PopFirst removes and returns the first element. ok is false if empty.
func (d *Deque[T]) PopFirst() (item T, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.data) == 0 {
		return item, false
	}
	item = d.data[0]
	d.data = d.data[1:]
	return item, true
}

// Drain returns all buffered elements in FIFO order and clears the deque.
func (d *Deque[T]) Drain() []T {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.data) == 0 {
		return nil
	}
	out := make([]T, len(d.data))
	copy(out, d.data)
	d.data = d.data[:0]
	return out
}

// Len returns the current number of buffered elements.
func (d *Deque[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.data)
}
