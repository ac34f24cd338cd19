// Package types holds small generic container types shared across the
// transaction, router and core packages.
package types

import (
	"container/list"
	"iter"
	"sync"
)

// CallbackManager keeps an ordered set of callbacks of type T and supports
// removing a single registration via the closure returned from Add.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    map[int]*list.Element
	order  *list.List
	nextID int
}

type callbackEntry[T any] struct {
	id int
	cb T
}

// Len returns the number of currently registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers cb and returns a function that removes it.
// The remove function is idempotent.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.cbs == nil {
		m.cbs = make(map[int]*list.Element)
	}
	if m.order == nil {
		m.order = list.New()
	}
	el := m.order.PushBack(&callbackEntry[T]{id, cb})
	m.cbs[id] = el
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if e, ok := m.cbs[id]; ok {
				m.order.Remove(e)
				delete(m.cbs, id)
			}
			m.mu.Unlock()
		})
	}
}

// All iterates registered callbacks in registration order.
// Callbacks are snapshotted before iteration, so Add/remove from within the
// loop body never deadlocks or skips entries.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}
		m.mu.RLock()
		if m.order == nil {
			m.mu.RUnlock()
			return
		}
		snap := make([]T, 0, m.order.Len())
		for el := m.order.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*callbackEntry[T]) //nolint:forcetypeassert
			snap = append(snap, entry.cb)
		}
		m.mu.RUnlock()

		for _, cb := range snap {
			if !yield(cb) {
				return
			}
		}
	}
}
