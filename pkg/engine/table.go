package engine

import "sync"

// Table maps descriptors to backend socket objects. Descriptors are handed
// out in increasing order and never reused, so a stale descriptor can never
// alias a newer socket.
type Table[T any] struct {
	mu    sync.Mutex
	next  Socket
	items map[Socket]T
}

// NewTable returns an empty table whose first descriptor is 1.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		next:  1,
		items: make(map[Socket]T),
	}
}

// Add stores v under a fresh descriptor.
func (t *Table[T]) Add(v T) Socket {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.next
	t.next++
	t.items[s] = v
	return s
}

// Get looks up s.
func (t *Table[T]) Get(s Socket) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.items[s]
	return v, ok
}

// Remove deletes s and returns what was stored there.
func (t *Table[T]) Remove(s Socket) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.items[s]
	if ok {
		delete(t.items, s)
	}
	return v, ok
}

// Drain empties the table and returns its former contents.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]T, 0, len(t.items))
	for s, v := range t.items {
		out = append(out, v)
		delete(t.items, s)
	}
	return out
}

// Len returns the number of live descriptors.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
