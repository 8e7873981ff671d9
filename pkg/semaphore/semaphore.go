// Package semaphore provides the pending-connection slots behind a
// listener's backlog. A slot is taken when a handshake completes and given
// back when the connection is accepted or discarded.
package semaphore

// ConnSemaphore is a counting semaphore over a buffered channel.
type ConnSemaphore struct {
	sem chan struct{}
}

// New creates a semaphore with capacity n. The semaphore starts with all n
// slots available. n below 1 is treated as 1.
func New(n int) *ConnSemaphore {
	if n < 1 {
		n = 1
	}
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return &ConnSemaphore{sem: sem}
}

// TryAcquire takes a slot if one is free and reports whether it did.
// A nil semaphore always grants the slot.
func (s *ConnSemaphore) TryAcquire() bool {
	if s == nil {
		return true
	}

	select {
	case <-s.sem:
		return true
	default:
		return false
	}
}

// Release gives a slot back. Releasing more slots than were acquired is a no-op.
func (s *ConnSemaphore) Release() {
	if s == nil {
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
	}
}

// Available returns the number of free slots.
func (s *ConnSemaphore) Available() int {
	if s == nil {
		return 0
	}
	return len(s.sem)
}

// Cap returns the total number of slots.
func (s *ConnSemaphore) Cap() int {
	if s == nil {
		return 0
	}
	return cap(s.sem)
}
