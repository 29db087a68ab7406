// Package dedupe suppresses repeated trigger deliveries at intake.
//
// It is a fast in-process filter only. The durable idempotency guard is the
// (user_id, trace_id) uniqueness of the instance store, so a key evicted here
// or lost on restart can at worst cause a redundant decision cycle that ends
// as a duplicate.
package dedupe

import (
	"context"
	"sync"
)

// DefaultMaxSize bounds how many trigger keys are remembered.
const DefaultMaxSize = 50000

// Deduper records trigger idempotency keys.
type Deduper interface {
	// SeenAndRecord reports whether key was already recorded and records it
	// if not. Check and record happen atomically.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a trigger that could not be enqueued can be
	// delivered again.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// ring is a bounded set with FIFO eviction. Slots emptied by Unrecord are
// skipped on eviction.
type ring struct {
	mu      sync.Mutex
	seen    map[string]int // key -> slot in order
	order   []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper. With WithMaxSize(n <= 0) it never
// evicts.
func NewInMemoryDeduper(opts ...Option) Deduper {
	r := &ring{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(r)
	}
	r.seen = make(map[string]int)
	if r.maxSize > 0 {
		r.order = make([]string, r.maxSize)
	}
	return r
}

func (r *ring) SeenAndRecord(_ context.Context, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[key]; ok {
		return true
	}
	if r.maxSize <= 0 {
		r.seen[key] = -1
		return false
	}

	// The slot at next holds the oldest key once the ring has wrapped.
	if old := r.order[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.order[r.next] = key
	r.seen[key] = r.next
	r.next = (r.next + 1) % r.maxSize
	return false
}

func (r *ring) Unrecord(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.seen[key]
	if !ok {
		return
	}
	delete(r.seen, key)
	if slot >= 0 {
		r.order[slot] = ""
	}
}

func (r *ring) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.seen))
}
