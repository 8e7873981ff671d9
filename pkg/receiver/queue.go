package receiver

import (
	"context"
	"time"

	"srtrecv/pkg/metrics"
)

// Chunk is one received message. Conn numbers the connection it came from,
// starting at 1.
type Chunk struct {
	Conn uint64
	Data []byte
}

// Queue is a bounded FIFO between the receive loop and the demuxer. Offer
// never blocks; when the queue is full the chunk is dropped.
type Queue struct {
	ch      chan Chunk
	metrics *metrics.Metrics
}

// NewQueue creates a queue holding up to size chunks. m may be nil.
func NewQueue(size int, m *metrics.Metrics) *Queue {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Queue{ch: make(chan Chunk, size), metrics: m}
}

// Offer adds c and reports whether there was room.
func (q *Queue) Offer(c Chunk) bool {
	select {
	case q.ch <- c:
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		q.metrics.QueueDropped.Inc()
		return false
	}
}

// Poll waits up to timeout for a chunk. It returns false on timeout or
// when ctx is done.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (Chunk, bool) {
	select {
	case c := <-q.ch:
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
		return c, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case c := <-q.ch:
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
		return c, true
	case <-t.C:
	case <-ctx.Done():
	}
	return Chunk{}, false
}

// Clear drops every queued chunk and returns how many there were.
func (q *Queue) Clear() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			q.metrics.QueueDepth.Set(0)
			return n
		}
	}
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue's capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
