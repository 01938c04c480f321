// Package intent provides a bounded best-effort record of writes attempted
// while the breaker guarding a write path is open. Durability is explicitly
// not guaranteed: on overflow the oldest entry is dropped.
package intent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dskow/resilience-core/internal/metrics"
)

// Intent is one recorded write, kept for later best-effort replay.
type Intent struct {
	ID        string
	Key       string
	Value     string
	TTL       time.Duration
	Timestamp time.Time
}

// Queue is a fixed-capacity FIFO ring of write intents.
type Queue struct {
	mu      sync.Mutex
	name    string
	entries []Intent
	head    int // index of the oldest entry
	count   int
}

// NewQueue creates a queue holding at most max intents. max must be > 0.
func NewQueue(name string, max int) *Queue {
	if max <= 0 {
		max = 1
	}
	return &Queue{
		name:    name,
		entries: make([]Intent, max),
	}
}

// Push records a write intent. When the queue is full the oldest entry is
// evicted. Returns the recorded intent (with its assigned ID).
func (q *Queue) Push(key, value string, ttl time.Duration) Intent {
	it := Intent{
		ID:        uuid.NewString(),
		Key:       key,
		Value:     value,
		TTL:       ttl,
		Timestamp: time.Now(),
	}

	q.mu.Lock()
	if q.count == len(q.entries) {
		// Full: overwrite the oldest slot.
		q.head = (q.head + 1) % len(q.entries)
		q.count--
		metrics.WriteIntentDropped.WithLabelValues(q.name).Inc()
	}
	q.entries[(q.head+q.count)%len(q.entries)] = it
	q.count++
	depth := q.count
	q.mu.Unlock()

	metrics.WriteIntentDepth.WithLabelValues(q.name).Set(float64(depth))
	return it
}

// Drain returns all recorded intents in FIFO order and empties the queue.
func (q *Queue) Drain() []Intent {
	q.mu.Lock()
	out := make([]Intent, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.entries[(q.head+i)%len(q.entries)])
	}
	q.head = 0
	q.count = 0
	q.mu.Unlock()

	metrics.WriteIntentDepth.WithLabelValues(q.name).Set(0)
	return out
}

// Size returns the number of intents currently queued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
