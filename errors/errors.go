// Package errors provides standardized error handling for RouteFlow.
// It includes the engine error taxonomy, standard error variables, and helper
// functions for consistent error wrapping and classification across routes,
// drivers, and processors.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes. The kind decides whether a
// failure drops one message, fails one route, or refuses engine startup.
type Kind int

const (
	// KindConfig is a startup configuration error: missing env var, unknown
	// scheme, invalid URI, unknown processor type. The engine refuses to start.
	KindConfig Kind = iota
	// KindEndpointStart is a source or sink that failed to initialize.
	// The owning route fails; other routes continue.
	KindEndpointStart
	// KindProcessing is an in-engine processor failure (predicate evaluation,
	// missing required template variable, aggregate invariant violation).
	// Drops one message; the route continues.
	KindProcessing
	// KindExternalProcess is a subprocess non-zero exit. Drops one message.
	KindExternalProcess
	// KindExternalTimeout is a subprocess that exceeded its deadline.
	// Drops one message; the subprocess is terminated.
	KindExternalTimeout
	// KindDelivery is a sink refusal or network failure. Logged and counted
	// per sink; peer sinks are unaffected.
	KindDelivery
	// KindSourceFatal is an unrecoverable source driver error. Route fails.
	KindSourceFatal
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindEndpointStart:
		return "endpoint_start"
	case KindProcessing:
		return "processing"
	case KindExternalProcess:
		return "external_process"
	case KindExternalTimeout:
		return "external_timeout"
	case KindDelivery:
		return "delivery"
	case KindSourceFatal:
		return "source_fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Configuration errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingConfig    = errors.New("missing required configuration")
	ErrMissingVariable  = errors.New("variable has no value and no default")
	ErrUnknownScheme    = errors.New("unknown endpoint scheme")
	ErrUnknownProcessor = errors.New("unknown processor type")
	ErrInvalidURI       = errors.New("invalid endpoint URI")

	// Driver lifecycle errors
	ErrNotImplemented = errors.New("endpoint scheme not implemented")
	ErrAlreadyStarted = errors.New("driver already started")
	ErrNotStarted     = errors.New("driver not started")
	ErrQueueClosed    = errors.New("route queue closed")

	// Processing errors
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrRequiredVar    = errors.New("required variable missing")
	ErrEmptyOutput    = errors.New("subprocess produced no output")
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Error is a kind-classified engine error carrying the component and
// operation it originated from.
type Error struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
	// Stderr holds captured subprocess stderr for external process errors.
	Stderr string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: stderr: %s", e.Err.Error(), e.Stderr)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err. The second return is false when
// no error in the chain carries a kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func wrap(kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Err:       fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err),
		Component: component,
		Operation: method,
	}
}

// WrapConfig wraps an error as a startup configuration error.
func WrapConfig(err error, component, method, action string) error {
	return wrap(KindConfig, err, component, method, action)
}

// WrapEndpointStart wraps an error as an endpoint initialization failure.
func WrapEndpointStart(err error, component, method, action string) error {
	return wrap(KindEndpointStart, err, component, method, action)
}

// WrapProcessing wraps an error as a per-message processor failure.
func WrapProcessing(err error, component, method, action string) error {
	return wrap(KindProcessing, err, component, method, action)
}

// WrapExternalProcess wraps a subprocess failure, attaching captured stderr.
func WrapExternalProcess(err error, component, method, action, stderr string) error {
	if err == nil {
		return nil
	}
	e := wrap(KindExternalProcess, err, component, method, action).(*Error)
	e.Stderr = stderr
	return e
}

// WrapExternalTimeout wraps a subprocess deadline overrun.
func WrapExternalTimeout(err error, component, method, action string) error {
	return wrap(KindExternalTimeout, err, component, method, action)
}

// WrapDelivery wraps a per-sink delivery failure.
func WrapDelivery(err error, component, method, action string) error {
	return wrap(KindDelivery, err, component, method, action)
}

// WrapSourceFatal wraps an unrecoverable source driver error.
func WrapSourceFatal(err error, component, method, action string) error {
	return wrap(KindSourceFatal, err, component, method, action)
}

// Wrap creates an unclassified standardized error with context following the
// pattern "component.method: action failed: %w". Use the kind-specific
// helpers when the failure maps onto the engine taxonomy.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// New creates a kind-classified error from a message.
func New(kind Kind, component, method, message string) error {
	return &Error{
		Kind:      kind,
		Err:       fmt.Errorf("%s.%s: %s", component, method, message),
		Component: component,
		Operation: method,
	}
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
