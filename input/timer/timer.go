// Package timer provides the timer:// source. The URI authority is the
// period, e.g. timer://500ms or timer://5m. Ticks are scheduled at
// start + n*period so the cadence never drifts, and the first tick fires one
// period after start.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Source emits a message with a monotonically increasing tick_id every
// period.
type Source struct {
	period time.Duration
	uri    string
	route  string
	logger *slog.Logger
}

// New creates a timer source from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Authority == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: timer URI needs a period", errors.ErrInvalidConfig),
			"timer-source", "New", "parse period")
	}
	period, err := time.ParseDuration(ep.Authority)
	if err != nil || period <= 0 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: invalid timer period %q", errors.ErrInvalidConfig, ep.Authority),
			"timer-source", "New", "parse period")
	}

	return &Source{
		period: period,
		uri:    ep.Raw,
		route:  deps.Route,
		logger: deps.GetLoggerWithComponent("timer-source"),
	}, nil
}

// Start implements endpoint.Source. It blocks until cancellation.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	s.logger.Info("timer started", "period", s.period)

	start := time.Now()
	timer := time.NewTimer(s.period)
	defer timer.Stop()

	for tick := int64(0); ; tick++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		msg := message.New(s.route, s.uri).Set("tick_id", tick)
		if err := out.Emit(ctx, msg); err != nil {
			return err
		}

		// Non-drifting: the next deadline comes from the start time, not
		// from when this tick finished emitting.
		next := start.Add(time.Duration(tick+2) * s.period)
		timer.Reset(time.Until(next))
	}
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}
