package endpoint

import (
	"fmt"

	"github.com/c360/routeflow/errors"
)

// Optional schemes the core knows about but does not implement. Each gets a
// stub factory that fails endpoint start with a not-implemented error, so a
// route using one fails cleanly while peer routes keep running.
var stubSchemes = []string{"grpc", "rtsp", "email", "webhook"}

// RegisterStubs installs not-implemented source and sink factories for the
// optional schemes that have no real registration yet. Call after the real
// drivers so an installed implementation wins.
func RegisterStubs(r *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, scheme := range stubSchemes {
		scheme := scheme
		if _, exists := r.sources[scheme]; !exists {
			r.sources[scheme] = func(ep *Endpoint, _ Dependencies) (Source, error) {
				return nil, notImplemented(scheme, RoleSource, ep)
			}
		}
		if _, exists := r.sinks[scheme]; !exists {
			r.sinks[scheme] = func(ep *Endpoint, _ Dependencies) (Sink, error) {
				return nil, notImplemented(scheme, RoleSink, ep)
			}
		}
	}
}

func notImplemented(scheme string, role Role, ep *Endpoint) error {
	return errors.WrapEndpointStart(
		fmt.Errorf("%w: scheme %q (%s)", errors.ErrNotImplemented, scheme, ep.Raw),
		scheme+"-"+role.String(), "Start", "instantiate driver")
}
