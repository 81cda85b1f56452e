// Package processor defines the processor contract and the type registry
// used to build a route's processor chain from configuration.
//
// A processor receives one message and returns zero or more messages. Zero
// without an error is a drop (filter miss, aggregate buffering); an error
// drops the message and is counted against the processor. Only the
// aggregate processor holds state; it additionally implements Stateful so
// the route executor can flush windows on deadline and on shutdown.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Processor is one stage in a route's chain.
type Processor interface {
	// Name identifies the processor in logs and metrics, e.g. "filter".
	Name() string
	// Process handles one message. Implementations must not mutate msg;
	// derived messages are produced from Clone.
	Process(ctx context.Context, msg *message.Message) ([]*message.Message, error)
}

// Stateful is implemented by processors holding windowed state. The route
// executor polls NextDeadline to schedule time-based flushes and calls
// FlushAll on end of input and on cancellation (best-effort single flush).
type Stateful interface {
	Processor
	// NextDeadline returns the earliest time a window must flush, and false
	// when no window is open.
	NextDeadline() (time.Time, bool)
	// FlushDue emits every window whose deadline has passed at now.
	FlushDue(ctx context.Context, now time.Time) []*message.Message
	// FlushAll emits every open window regardless of deadline.
	FlushAll(ctx context.Context) []*message.Message
}

// Factory builds a processor from its raw configuration block.
type Factory func(raw json.RawMessage, deps endpoint.Dependencies) (Processor, error)

// Registry maps processor type names to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a processor type.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || factory == nil {
		return errors.WrapConfig(errors.ErrInvalidConfig, "Registry", "Register", "name and factory required")
	}
	if _, exists := r.factories[name]; exists {
		return errors.WrapConfig(
			fmt.Errorf("processor type %q already registered", name),
			"Registry", "Register", "duplicate type")
	}
	r.factories[name] = factory
	return nil
}

// Build instantiates a processor from a configuration block. An
// unrecognized type is a config error; the engine refuses to start.
func (r *Registry) Build(cfg config.ProcessorConfig, deps endpoint.Dependencies) (Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: %q", errors.ErrUnknownProcessor, cfg.Type),
			"Registry", "Build", "type lookup")
	}
	return factory(cfg.Raw, deps)
}

// Types returns the registered processor type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
