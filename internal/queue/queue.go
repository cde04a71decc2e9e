// Package queue implements the bounded FIFO admission gate between the
// front-ends and the worker pool.
package queue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"diffusion-server/internal/domain"
)

// Queue holds admitted job ids in submission order. Capacity is fixed at
// construction and is the server's only backpressure mechanism: admission
// either succeeds immediately or fails immediately.
type Queue struct {
	ch       chan uuid.UUID
	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a queue admitting at most capacity ids.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}
	return &Queue{
		ch:   make(chan uuid.UUID, capacity),
		stop: make(chan struct{}),
	}, nil
}

// TryEnqueue admits id without blocking. A full queue yields
// domain.ErrQueueFull, a stopped queue domain.ErrQueueClosed.
func (q *Queue) TryEnqueue(id uuid.UUID) error {
	select {
	case <-q.stop:
		return domain.ErrQueueClosed
	default:
	}
	select {
	case q.ch <- id:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an id is available or the queue is stopped; false
// means stopped. The stop check runs before the blocking select so a worker
// returning between jobs observes shutdown even while ids remain buffered;
// those ids stay queued in the store.
func (q *Queue) Dequeue() (uuid.UUID, bool) {
	select {
	case <-q.stop:
		return uuid.Nil, false
	default:
	}
	select {
	case <-q.stop:
		return uuid.Nil, false
	case id := <-q.ch:
		return id, true
	}
}

// Depth returns the number of ids admitted and not yet claimed.
func (q *Queue) Depth() int { return len(q.ch) }

// Capacity returns the fixed admission bound.
func (q *Queue) Capacity() int { return cap(q.ch) }

// Stop wakes every blocked Dequeue. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}
