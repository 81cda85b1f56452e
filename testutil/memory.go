// Package testutil provides in-memory source and sink drivers for exercising
// routes without network endpoints.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/message"
)

// MemorySource emits a fixed sequence of messages and then reports end of
// input, or blocks until cancellation when Hold is set.
type MemorySource struct {
	mu sync.Mutex

	// Messages are emitted in order on Start.
	Messages []*message.Message
	// Interval, when non-zero, spaces the emissions.
	Interval time.Duration
	// Hold keeps the source open after the last message instead of
	// signalling end of input.
	Hold bool
	// FailWith, when non-nil, is returned after the messages are emitted,
	// simulating an unrecoverable source error.
	FailWith error

	Emitted int
	Started bool
	Stopped bool
}

// Start implements endpoint.Source.
func (s *MemorySource) Start(ctx context.Context, out endpoint.Producer) error {
	s.mu.Lock()
	s.Started = true
	msgs := s.Messages
	s.mu.Unlock()

	for _, msg := range msgs {
		if s.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Interval):
			}
		}
		if err := out.Emit(ctx, msg); err != nil {
			return err
		}
		s.mu.Lock()
		s.Emitted++
		s.mu.Unlock()
	}

	if s.FailWith != nil {
		return s.FailWith
	}
	if s.Hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil // end of input
}

// Stop implements endpoint.Source.
func (s *MemorySource) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = true
	return nil
}

// MemorySink records every delivered message.
type MemorySink struct {
	mu sync.Mutex

	// FailWith, when non-nil, is returned for every delivery.
	FailWith error
	// Delay, when non-zero, stalls each delivery; use with short delivery
	// timeouts to exercise deadline handling.
	Delay time.Duration

	delivered []*message.Message
	Stopped   bool
}

// Deliver implements endpoint.Sink.
func (s *MemorySink) Deliver(ctx context.Context, msg *message.Message) error {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if s.FailWith != nil {
		return s.FailWith
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, msg)
	return nil
}

// Stop implements endpoint.Sink.
func (s *MemorySink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = true
	return nil
}

// Delivered returns a snapshot of the delivered messages in order.
func (s *MemorySink) Delivered() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*message.Message, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// Len returns the number of delivered messages.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

// Register installs mem:// factories backed by the given source and sinks on
// a registry. The source is returned for mem:// sources; sinks are matched
// by the endpoint authority, so mem://a and mem://b address different sinks.
func Register(r *endpoint.Registry, source *MemorySource, sinks map[string]*MemorySink) error {
	if source != nil {
		err := r.RegisterSource("mem", func(*endpoint.Endpoint, endpoint.Dependencies) (endpoint.Source, error) {
			return source, nil
		})
		if err != nil {
			return err
		}
	}
	if sinks != nil {
		err := r.RegisterSink("mem", func(ep *endpoint.Endpoint, _ endpoint.Dependencies) (endpoint.Sink, error) {
			sink, ok := sinks[ep.Authority]
			if !ok {
				sink = &MemorySink{}
				sinks[ep.Authority] = sink
			}
			return sink, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Msgs builds messages from plain field maps, in order.
func Msgs(fieldMaps ...map[string]any) []*message.Message {
	out := make([]*message.Message, len(fieldMaps))
	for i, fields := range fieldMaps {
		out[i] = message.FromFields(fields)
	}
	return out
}
