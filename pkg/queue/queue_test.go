package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/metric"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	assert.Equal(t, 4, q.Depth())

	for i := 0; i < 4; i++ {
		got := <-q.Dequeue()
		q.Note()
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, int64(4), q.Enqueued())
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q, err := New[int](1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, 2)
	}()

	select {
	case <-unblocked:
		t.Fatal("enqueue should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Dequeue()
	require.NoError(t, <-unblocked)
}

func TestEnqueueRespectsCancellation(t *testing.T) {
	q, err := New[int](1)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, 2) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTryEnqueueCountsDrops(t *testing.T) {
	q, err := New[string](2)
	require.NoError(t, err)

	assert.True(t, q.TryEnqueue("a"))
	assert.True(t, q.TryEnqueue("b"))
	assert.False(t, q.TryEnqueue("c"))
	assert.False(t, q.TryEnqueue("d"))

	assert.Equal(t, int64(2), q.Enqueued())
	assert.Equal(t, int64(2), q.Dropped())
	assert.Equal(t, 2, q.Depth())
}

func TestBoundedMemoryProperty(t *testing.T) {
	const capacity = 8
	q, err := New[int](capacity)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		q.TryEnqueue(i)
		assert.LessOrEqual(t, q.Depth(), capacity)
	}
}

func TestCloseDrainsRemaining(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), 7))
	q.Close()

	v, ok := <-q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = <-q.Dequeue()
	assert.False(t, ok, "channel closes after drain")
}

func TestMinimumCapacity(t *testing.T) {
	q, err := New[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Capacity())
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	q, err := New[int](2, WithMetrics[int](registry, "route_orders"))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), 1))
	q.TryEnqueue(2)
	q.TryEnqueue(3) // dropped

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	assert.True(t, found["routeflow_queue_depth_current"])
	assert.True(t, found["routeflow_queue_dropped_total"])
}
