package endpoint

import (
	"fmt"
	"sync"

	"github.com/c360/routeflow/errors"
)

// Registry maps URI schemes to driver factories. A scheme may register a
// source factory, a sink factory, or both. The registry is populated at
// startup and read-only afterwards.
type Registry struct {
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
	}
}

// RegisterSource registers a source factory for a scheme. Duplicate
// registrations are config errors.
func (r *Registry) RegisterSource(scheme string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scheme == "" || factory == nil {
		return errors.WrapConfig(errors.ErrInvalidConfig, "Registry", "RegisterSource", "scheme and factory required")
	}
	if _, exists := r.sources[scheme]; exists {
		return errors.WrapConfig(
			fmt.Errorf("source scheme %q already registered", scheme),
			"Registry", "RegisterSource", "duplicate scheme")
	}
	r.sources[scheme] = factory
	return nil
}

// RegisterSink registers a sink factory for a scheme.
func (r *Registry) RegisterSink(scheme string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scheme == "" || factory == nil {
		return errors.WrapConfig(errors.ErrInvalidConfig, "Registry", "RegisterSink", "scheme and factory required")
	}
	if _, exists := r.sinks[scheme]; exists {
		return errors.WrapConfig(
			fmt.Errorf("sink scheme %q already registered", scheme),
			"Registry", "RegisterSink", "duplicate scheme")
	}
	r.sinks[scheme] = factory
	return nil
}

// Source instantiates a source driver for the endpoint. An unregistered
// scheme is a config error; a factory failure is returned as the factory
// classified it (config for bad parameters, endpoint start for stubs).
func (r *Registry) Source(ep *Endpoint, deps Dependencies) (Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[ep.Scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: %q is not usable as a source", errors.ErrUnknownScheme, ep.Scheme),
			"Registry", "Source", "scheme lookup")
	}
	return factory(ep, deps)
}

// Sink instantiates a sink driver for the endpoint.
func (r *Registry) Sink(ep *Endpoint, deps Dependencies) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[ep.Scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: %q is not usable as a sink", errors.ErrUnknownScheme, ep.Scheme),
			"Registry", "Sink", "scheme lookup")
	}
	return factory(ep, deps)
}

// Schemes returns the registered scheme names for each role.
func (r *Registry) Schemes() (sources, sinks []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for scheme := range r.sources {
		sources = append(sources, scheme)
	}
	for scheme := range r.sinks {
		sinks = append(sinks, scheme)
	}
	return sources, sinks
}
