// ABOUTME: Tests for the bounded metric queue.
// ABOUTME: Covers FIFO order, overflow shedding, requeue attempt counting, and stats.

package processor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulse-gateway/internal/metric"
)

func queuedMetric(name string) *metric.Metric {
	return &metric.Metric{Name: name, Type: metric.TypeGauge, Value: metric.ScalarValue(1)}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(queuedMetric("a"))
	q.Enqueue(queuedMetric("b"))
	q.Enqueue(queuedMetric("c"))

	batch := q.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Metric.Name)
	assert.Equal(t, "b", batch[1].Metric.Name)
	assert.Equal(t, 1, q.Len())

	require.Len(t, q.DequeueBatch(10), 1)
	assert.Nil(t, q.DequeueBatch(10), "empty queue returns nil")
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := NewQueue(3)
	assert.False(t, q.Enqueue(queuedMetric("a")))
	assert.False(t, q.Enqueue(queuedMetric("b")))
	assert.False(t, q.Enqueue(queuedMetric("c")))
	assert.True(t, q.Enqueue(queuedMetric("d")), "enqueue on a full queue sheds")

	batch := q.DequeueBatch(10)
	require.Len(t, batch, 3)
	assert.Equal(t, "b", batch[0].Metric.Name, "oldest entry was shed")
	assert.Equal(t, "d", batch[2].Metric.Name)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.DroppedOverflow)
	assert.Equal(t, int64(4), stats.TotalEnqueued)
}

func TestQueue_RequeueBumpsAttempts(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(queuedMetric("a"))
	q.Enqueue(queuedMetric("b"))

	batch := q.DequeueBatch(1)
	require.Len(t, batch, 1)

	requeued, dropped := q.Requeue(batch)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 2, q.Len())

	// Retried entries go back to the front, ahead of newer data.
	batch = q.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Metric.Name)
	assert.Equal(t, 1, batch[0].Attempts)
	assert.Equal(t, 0, batch[1].Attempts)
}

func TestQueue_RequeueDropsExhaustedEntries(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(queuedMetric("a"))

	batch := q.DequeueBatch(1)
	requeued, dropped := q.Requeue(batch)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, dropped)

	batch = q.DequeueBatch(1)
	requeued, dropped = q.Requeue(batch)
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(1), q.Stats().DroppedFailed)
}

func TestQueue_RequeueOverflowShedsNewestTail(t *testing.T) {
	q := NewQueue(3)
	q.Enqueue(queuedMetric("a"))
	q.Enqueue(queuedMetric("b"))

	batch := q.DequeueBatch(2)
	q.Enqueue(queuedMetric("c"))
	q.Enqueue(queuedMetric("d"))
	q.Enqueue(queuedMetric("e"))

	requeued, dropped := q.Requeue(batch)
	assert.Equal(t, 2, requeued)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 3, q.Len())

	// Retried entries survive; the newest tail entries were shed.
	out := q.DequeueBatch(3)
	assert.Equal(t, "a", out[0].Metric.Name)
	assert.Equal(t, "b", out[1].Metric.Name)
	assert.Equal(t, "c", out[2].Metric.Name)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(queuedMetric(fmt.Sprintf("m-%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 500, q.Len())
	stats := q.Stats()
	assert.Equal(t, int64(500), stats.TotalEnqueued)
	assert.Equal(t, int64(0), stats.DroppedOverflow)
}
