// Package engine implements the supervisor that owns every route: it starts
// routes up to the global concurrency cap, holds the rest pending, restarts
// nothing (routes are run-to-completion), and drives the hierarchical
// shutdown on cancellation.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/metric"
	"github.com/c360/routeflow/processor"
	"github.com/c360/routeflow/route"
)

// Options carries the engine's collaborators.
type Options struct {
	Endpoints  *endpoint.Registry
	Processors *processor.Registry
	Metrics    *metric.MetricsRegistry
	Logger     *slog.Logger
	Env        config.EnvSnapshot
}

// Engine supervises all declared routes.
type Engine struct {
	routes   []*route.Route
	settings config.Settings
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New builds every route from the document. Any config-kind failure refuses
// engine start. Routes whose endpoints failed to initialize are kept in the
// Failed state; peer routes still run.
func New(doc *config.Document, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		settings: doc.Settings,
		logger:   logger.With("component", "engine"),
	}

	for _, routeCfg := range doc.Routes {
		r, err := route.New(routeCfg, route.Options{
			Endpoints:  opts.Endpoints,
			Processors: opts.Processors,
			Metrics:    opts.Metrics,
			Logger:     logger,
			Env:        opts.Env,
			Settings:   doc.Settings,
		})
		if err != nil {
			if r == nil {
				// Config error: the engine refuses to start.
				return nil, err
			}
			// Endpoint startup failure: track the failed route, keep going.
			e.logger.Error("route failed at startup", "route", routeCfg.Name, "error", err)
		}
		e.routes = append(e.routes, r)
	}

	return e, nil
}

// Status returns a snapshot of every route's state.
func (e *Engine) Status() map[string]route.State {
	status := make(map[string]route.State, len(e.routes))
	for _, r := range e.routes {
		status[r.Name()] = r.State()
	}
	return status
}

// Describe returns the static description of every route without starting
// any driver (dry run).
func (e *Engine) Describe() []map[string]any {
	out := make([]map[string]any, len(e.routes))
	for i, r := range e.routes {
		out[i] = r.Describe()
	}
	return out
}

// Run starts routes up to max_concurrent_routes, feeds pending routes as
// running ones finish, and on cancellation waits up to shutdown_grace for
// every route to drain. It returns the aggregated failures, or nil when all
// routes stopped cleanly.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New(errors.KindConfig, "engine", "Run", "engine already running")
	}
	e.running = true
	e.mu.Unlock()

	maxConcurrent := e.settings.MaxConcurrentRoutes

	pending := make([]*route.Route, 0, len(e.routes))
	for _, r := range e.routes {
		if r.State() == route.StateCreated {
			pending = append(pending, r)
		}
	}

	e.logger.Info("engine starting",
		"routes", len(e.routes),
		"pending", len(pending),
		"max_concurrent", maxConcurrent)

	type completion struct {
		r   *route.Route
		err error
	}
	completions := make(chan completion, len(e.routes))

	var wg sync.WaitGroup
	active := 0
	launch := func(r *route.Route) {
		active++
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Run(ctx)
			completions <- completion{r: r, err: err}
		}()
	}

	for len(pending) > 0 && active < maxConcurrent {
		launch(pending[0])
		pending = pending[1:]
	}

	var failures []error
	for active > 0 {
		select {
		case done := <-completions:
			active--
			if done.err != nil {
				failures = append(failures, fmt.Errorf("route %s: %w", done.r.Name(), done.err))
			}
			// Cancellation stops feeding pending routes; completions of
			// already-running routes still drain.
			if ctx.Err() == nil {
				for len(pending) > 0 && active < maxConcurrent {
					launch(pending[0])
					pending = pending[1:]
				}
			}
		case <-ctx.Done():
			// Routes share ctx and are already stopping. Wait for them
			// with the shutdown grace; abandon stragglers after that.
			drained := make(chan struct{})
			go func() {
				wg.Wait()
				close(drained)
			}()

			grace := time.NewTimer(e.settings.Grace())
			defer grace.Stop()
			for active > 0 {
				select {
				case done := <-completions:
					active--
					if done.err != nil {
						failures = append(failures, fmt.Errorf("route %s: %w", done.r.Name(), done.err))
					}
				case <-grace.C:
					e.logger.Error("shutdown grace expired", "still_active", active)
					return stderrors.Join(append(failures,
						errors.New(errors.KindSourceFatal, "engine", "Run",
							fmt.Sprintf("%d routes did not stop within grace", active)))...)
				}
			}
			<-drained
			e.logFinal(failures)
			return stderrors.Join(failures...)
		}
	}

	wg.Wait()
	e.logFinal(failures)
	return stderrors.Join(failures...)
}

func (e *Engine) logFinal(failures []error) {
	e.logger.Info("engine stopped", "failed_routes", len(failures))
	for name, state := range e.Status() {
		e.logger.Debug("final route state", "route", name, "state", state.String())
	}
}
