// Package queue buffers accepted triggers between intake and the decision
// workers.
//
// The queue is bounded and never blocks producers: a full queue is
// backpressure the caller must surface, not a reason to wait.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/pkg/metrics"
)

// DefaultCapacity is the queue bound when none is configured.
const DefaultCapacity = 10000

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds t or fails with ErrFull or ErrClosed.
	Enqueue(ctx context.Context, t model.Trigger) error

	// Dequeue returns the channel workers receive from. It is closed once
	// the queue is closed and drained.
	Dequeue() <-chan model.Trigger

	Len() int
	Capacity() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	triggers chan model.Trigger
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.triggers = make(chan model.Trigger, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds t without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t model.Trigger) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		return fmt.Errorf("enqueue trigger: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.triggers <- t:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns the receive side of the queue.
func (q *InMemoryQueue) Dequeue() <-chan model.Trigger {
	return q.triggers
}

// MarkDequeued records that a worker took a trigger off the queue.
func (q *InMemoryQueue) MarkDequeued() {
	metrics.RecordQueueDequeue()
	q.updateGauges()
}

func (q *InMemoryQueue) updateGauges() {
	size := len(q.triggers)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Len returns the number of waiting triggers.
func (q *InMemoryQueue) Len() int {
	return len(q.triggers)
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops intake. Triggers already queued are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.triggers)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
