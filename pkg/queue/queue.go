// Package queue provides the bounded in-memory queue between a route's
// source driver and its processor chain.
//
// The queue enforces the route's memory bound: blocking sources suspend on
// Enqueue when the queue is full (cooperative backpressure), while push-based
// sources that cannot block use TryEnqueue and count the drop. Statistics are
// always collected; Prometheus export is optional via WithMetrics.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/metric"
)

// Option configures a queue.
type Option[T any] func(*options)

type options struct {
	registry *metric.MetricsRegistry
	prefix   string
}

// WithMetrics exposes queue depth and drop statistics as Prometheus metrics.
// A nil registry or empty prefix disables the option.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *options) {
		if registry != nil && prefix != "" {
			o.registry = registry
			o.prefix = prefix
		}
	}
}

// Queue is a bounded FIFO connecting one producer side to one consumer.
type Queue[T any] struct {
	ch       chan T
	capacity int

	enqueued atomic.Int64
	dropped  atomic.Int64

	depthGauge prometheus.Gauge
	dropsCount prometheus.Counter
}

// New creates a queue with the given capacity. Capacity below one is raised
// to one.
func New[T any](capacity int, opts ...Option[T]) (*Queue[T], error) {
	if capacity < 1 {
		capacity = 1
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	q := &Queue[T]{
		ch:       make(chan T, capacity),
		capacity: capacity,
	}

	if o.registry != nil {
		q.depthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routeflow",
			Subsystem: "queue",
			Name:      "depth_current",
			Help:      "Current number of buffered messages",
			ConstLabels: prometheus.Labels{
				"queue": o.prefix,
			},
		})
		q.dropsCount = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routeflow",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Messages dropped because the queue was full",
			ConstLabels: prometheus.Labels{
				"queue": o.prefix,
			},
		})
		if err := o.registry.RegisterGauge(o.prefix, "queue_depth", q.depthGauge); err != nil {
			return nil, err
		}
		if err := o.registry.RegisterCounter(o.prefix, "queue_dropped", q.dropsCount); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// Enqueue blocks until there is room or the context is cancelled. Use from
// sources that support cooperative suspension.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		q.noteEnqueue()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds the item if there is room and reports whether it was
// accepted. A full queue counts a drop. Use from network callbacks that must
// not block the transport.
func (q *Queue[T]) TryEnqueue(item T) bool {
	select {
	case q.ch <- item:
		q.noteEnqueue()
		return true
	default:
		q.dropped.Add(1)
		if q.dropsCount != nil {
			q.dropsCount.Inc()
		}
		return false
	}
}

// Dequeue returns the channel the consumer receives from. The channel is
// closed after Close once drained.
func (q *Queue[T]) Dequeue() <-chan T {
	return q.ch
}

// Note records consumption for depth accounting. Consumers call it after
// receiving from Dequeue.
func (q *Queue[T]) Note() {
	if q.depthGauge != nil {
		q.depthGauge.Set(float64(len(q.ch)))
	}
}

// Close marks the producer side finished. Buffered items remain readable;
// the consumer sees channel close after draining. Enqueue after Close panics,
// matching channel semantics; sources must stop producing first.
func (q *Queue[T]) Close() {
	close(q.ch)
}

// Depth returns the current number of buffered items.
func (q *Queue[T]) Depth() int { return len(q.ch) }

// Capacity returns the maximum number of buffered items.
func (q *Queue[T]) Capacity() int { return q.capacity }

// Enqueued returns the total number of accepted items.
func (q *Queue[T]) Enqueued() int64 { return q.enqueued.Load() }

// Dropped returns the total number of rejected items.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

func (q *Queue[T]) noteEnqueue() {
	q.enqueued.Add(1)
	if q.depthGauge != nil {
		q.depthGauge.Set(float64(len(q.ch)))
	}
}

// ErrClosed aliases errors.ErrQueueClosed. No Queue method returns it; a
// closed queue shows as a closed Dequeue channel.
var ErrClosed = errors.ErrQueueClosed
