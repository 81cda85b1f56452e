// Package endpoint defines resolved endpoint URIs, the source and sink
// driver contracts, and the scheme registry that maps a URI scheme to a
// driver factory.
package endpoint

import (
	"log/slog"
	"time"

	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/metric"
)

// Role says which side of a route an endpoint is instantiated for. Some
// schemes support both roles; the position in the route decides.
type Role int

const (
	// RoleSource produces messages into a route.
	RoleSource Role = iota
	// RoleSink accepts finalized messages from a route.
	RoleSink
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleSink {
		return "sink"
	}
	return "source"
}

// Endpoint is a resolved endpoint URI: variables expanded, components
// parsed. It is read-only after Parse.
type Endpoint struct {
	// Raw is the URI after variable expansion.
	Raw string
	// Scheme is the lower-cased URI scheme.
	Scheme string
	// Authority is the raw host[:port] section. Timer periods live here.
	Authority string
	Host      string
	Port      int
	User      string
	Password  string
	// Path is the percent-decoded path, leading slash preserved.
	Path string
	// Params holds decoded query parameters, first value wins.
	Params map[string]string
}

// Param returns a query parameter or the fallback when unset.
func (e *Endpoint) Param(key, fallback string) string {
	if v, ok := e.Params[key]; ok {
		return v
	}
	return fallback
}

// Dependencies carries the runtime collaborators handed to every driver.
type Dependencies struct {
	Logger  *slog.Logger            // structured logger (nil falls back to slog.Default)
	Metrics *metric.MetricsRegistry // metrics registry (nil disables driver metrics)
	Env     config.EnvSnapshot      // environment snapshot captured at engine start
	Timeout time.Duration           // default per-operation timeout
	Route   string                  // owning route name, for logging and metric labels
}

// GetLogger returns the configured logger or the process default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger scoped to a driver.
func (d *Dependencies) GetLoggerWithComponent(component string) *slog.Logger {
	return d.GetLogger().With("component", component, "route", d.Route)
}
