package endpoint

import (
	"context"
	"time"

	"github.com/c360/routeflow/message"
)

// Producer is the route-side funnel a source driver feeds. Emit blocks while
// the route queue is full (cooperative backpressure); TryEmit never blocks
// and reports whether the message was accepted, so sources pushed from
// network callbacks can drop instead of growing memory. Drops are counted by
// the route.
type Producer interface {
	Emit(ctx context.Context, msg *message.Message) error
	TryEmit(msg *message.Message) bool
}

// ProducerFunc adapts a function to a Producer that never drops. Useful in
// tests and for sinks of unbounded capacity.
type ProducerFunc func(ctx context.Context, msg *message.Message) error

// Emit implements Producer.
func (f ProducerFunc) Emit(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// TryEmit implements Producer.
func (f ProducerFunc) TryEmit(msg *message.Message) bool {
	return f(context.Background(), msg) == nil
}

// Source is a long-lived producer of messages.
//
// Start blocks for the life of the driver: it returns nil on end of input
// (the route drains and stops), the context error on cancellation, and any
// other error as an unrecoverable source failure (the route fails). Drivers
// must check ctx between I/O operations.
type Source interface {
	Start(ctx context.Context, out Producer) error
	// Stop releases driver resources. It is called exactly once after Start
	// returns, with a bounded wait for cleanup.
	Stop(timeout time.Duration) error
}

// Sink delivers finalized messages to a destination.
//
// Deliver is called sequentially per sink, in route order; the route fans
// out across sinks concurrently. The context carries the per-delivery
// deadline. A returned error marks this delivery failed without affecting
// peer sinks.
type Sink interface {
	Deliver(ctx context.Context, msg *message.Message) error
	Stop(timeout time.Duration) error
}

// SourceFactory builds a source driver for a resolved endpoint.
type SourceFactory func(ep *Endpoint, deps Dependencies) (Source, error)

// SinkFactory builds a sink driver for a resolved endpoint.
type SinkFactory func(ep *Endpoint, deps Dependencies) (Sink, error)
