// ABOUTME: Bounded in-memory queue buffering enriched metrics between ingest and flush.
// ABOUTME: Multiple producers, single drainer; overflow drops the oldest entry and counts it.

package processor

import (
	"sync"
	"sync/atomic"

	"github.com/2389/pulse-gateway/internal/metric"
)

// DefaultQueueCapacity bounds the pending-metric buffer when no capacity
// is configured.
const DefaultQueueCapacity = 10000

// maxFlushAttempts is how many times an entry may be handed to the store
// before it is dropped as failed.
const maxFlushAttempts = 2

// Entry is one queued metric with its flush attempt count.
type Entry struct {
	Metric   *metric.Metric
	Attempts int
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Depth           int   `json:"depth"`
	Capacity        int   `json:"capacity"`
	TotalEnqueued   int64 `json:"total_enqueued"`
	TotalDequeued   int64 `json:"total_dequeued"`
	DroppedOverflow int64 `json:"dropped_overflow"`
	DroppedFailed   int64 `json:"dropped_failed"`
}

// Queue is a thread-safe bounded FIFO of pending metrics. When full, the
// oldest entry is shed to make room so recent data wins.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int

	totalEnqueued   atomic.Int64
	totalDequeued   atomic.Int64
	droppedOverflow atomic.Int64
	droppedFailed   atomic.Int64
}

// NewQueue creates a bounded queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue appends a metric, shedding the oldest entry when the queue is
// full. Returns true if an older entry was dropped to make room.
func (q *Queue) Enqueue(m *metric.Metric) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	shed := false
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.droppedOverflow.Add(1)
		shed = true
	}
	q.entries = append(q.entries, Entry{Metric: m})
	q.totalEnqueued.Add(1)
	return shed
}

// DequeueBatch removes and returns up to n entries without blocking.
// Returns nil when the queue is empty.
func (q *Queue) DequeueBatch(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	count := n
	if count > len(q.entries) {
		count = len(q.entries)
	}

	batch := make([]Entry, count)
	copy(batch, q.entries[:count])
	q.entries = q.entries[count:]
	q.totalDequeued.Add(int64(count))
	return batch
}

// Requeue returns entries to the front of the queue after a failed flush,
// bumping their attempt count. Entries that have exhausted their attempts
// are dropped and counted instead of being retried forever.
func (q *Queue) Requeue(batch []Entry) (requeued, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keep := make([]Entry, 0, len(batch))
	for _, e := range batch {
		e.Attempts++
		if e.Attempts >= maxFlushAttempts {
			q.droppedFailed.Add(1)
			dropped++
			continue
		}
		keep = append(keep, e)
	}

	// Overflow from the re-insertion sheds the newest tail entries, not
	// the retried ones: the retried entries are older data.
	room := q.capacity - len(keep)
	if room < 0 {
		room = 0
	}
	if len(q.entries) > room {
		q.droppedOverflow.Add(int64(len(q.entries) - room))
		q.entries = q.entries[:room]
	}
	q.entries = append(keep, q.entries...)
	return len(keep), dropped
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	depth := len(q.entries)
	q.mu.Unlock()

	return QueueStats{
		Depth:           depth,
		Capacity:        q.capacity,
		TotalEnqueued:   q.totalEnqueued.Load(),
		TotalDequeued:   q.totalDequeued.Load(),
		DroppedOverflow: q.droppedOverflow.Load(),
		DroppedFailed:   q.droppedFailed.Load(),
	}
}
