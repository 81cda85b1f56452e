// Package route implements the per-route executor: it wires one source
// through the processor chain to the fan-out sinks, owns the bounded queue
// between source and chain, and drives the route state machine.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/metric"
	"github.com/c360/routeflow/pkg/queue"
	"github.com/c360/routeflow/processor"
)

// Options carries the collaborators a route needs to build itself.
type Options struct {
	Endpoints  *endpoint.Registry
	Processors *processor.Registry
	Metrics    *metric.MetricsRegistry
	Logger     *slog.Logger
	Env        config.EnvSnapshot
	Settings   config.Settings
}

type sinkEntry struct {
	driver endpoint.Sink
	scheme string
	uri    string
}

// Route executes one declared route.
type Route struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
	timeout time.Duration

	source     endpoint.Source
	sourceURI  string
	processors []processor.Processor
	sinks      []sinkEntry
	queue      *queue.Queue[*message.Message]

	mu      sync.RWMutex
	state   State
	lastErr error

	done chan struct{}
}

// New resolves the route's endpoints and processors and returns a route in
// the Created state.
//
// Config-kind failures (bad URI, unknown scheme, unknown processor type)
// return a nil route: the engine must refuse to start. An endpoint factory
// failure returns the route in the Failed state together with the error, so
// the supervisor can track the failure while peer routes continue.
func New(cfg config.RouteConfig, opts Options) (*Route, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("route", cfg.Name)

	timeout := opts.Settings.Timeout()

	deps := endpoint.Dependencies{
		Logger:  logger,
		Metrics: opts.Metrics,
		Env:     opts.Env,
		Timeout: timeout,
		Route:   cfg.Name,
	}

	r := &Route{
		name:    cfg.Name,
		logger:  logger,
		timeout: timeout,
		state:   StateCreated,
		done:    make(chan struct{}),
	}
	if opts.Metrics != nil {
		r.metrics = opts.Metrics.CoreMetrics()
	}

	q, err := queue.New[*message.Message](opts.Settings.QueueCapacity)
	if err != nil {
		return nil, err
	}
	r.queue = q

	// Source endpoint.
	srcEp, err := endpoint.Parse(cfg.From, opts.Env)
	if err != nil {
		return nil, err
	}
	r.sourceURI = srcEp.Raw
	source, err := opts.Endpoints.Source(srcEp, deps)
	if err != nil {
		return r.startupFailure(err)
	}
	r.source = source

	// Processor chain, in declared order.
	for i, procCfg := range cfg.Processors {
		proc, err := opts.Processors.Build(procCfg, deps)
		if err != nil {
			if errors.IsKind(err, errors.KindConfig) {
				return nil, err
			}
			return r.startupFailure(errors.Wrap(err, "route", "New",
				fmt.Sprintf("build processor %d", i+1)))
		}
		r.processors = append(r.processors, proc)
	}

	// Sink endpoints.
	for _, to := range cfg.To {
		sinkEp, err := endpoint.Parse(to, opts.Env)
		if err != nil {
			return nil, err
		}
		sink, err := opts.Endpoints.Sink(sinkEp, deps)
		if err != nil {
			return r.startupFailure(err)
		}
		r.sinks = append(r.sinks, sinkEntry{driver: sink, scheme: sinkEp.Scheme, uri: sinkEp.Raw})
	}

	return r, nil
}

// startupFailure parks the route in Failed for non-config startup errors.
func (r *Route) startupFailure(err error) (*Route, error) {
	if errors.IsKind(err, errors.KindConfig) {
		return nil, err
	}
	r.setState(StateFailed)
	r.setErr(err)
	close(r.done)
	return r, err
}

// Name returns the route name.
func (r *Route) Name() string { return r.name }

// State returns the current lifecycle state.
func (r *Route) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Err returns the error that failed the route, if any.
func (r *Route) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Done is closed when the route reaches Stopped or Failed.
func (r *Route) Done() <-chan struct{} { return r.done }

// Describe returns a static description of the route for dry runs.
func (r *Route) Describe() map[string]any {
	procs := make([]string, len(r.processors))
	for i, p := range r.processors {
		procs[i] = p.Name()
	}
	sinks := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		sinks[i] = s.uri
	}
	return map[string]any{
		"name":       r.name,
		"from":       r.sourceURI,
		"processors": procs,
		"to":         sinks,
	}
}

func (r *Route) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.RecordRouteState(r.name, int(s))
	}
}

func (r *Route) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// producer adapts the route queue to the endpoint.Producer contract and
// keeps the source-stage counters.
type producer struct{ r *Route }

func (p producer) Emit(ctx context.Context, msg *message.Message) error {
	if err := p.r.queue.Enqueue(ctx, msg); err != nil {
		return err
	}
	p.r.recordIn("source")
	return nil
}

func (p producer) TryEmit(msg *message.Message) bool {
	if !p.r.queue.TryEnqueue(msg) {
		p.r.recordDrop("source")
		return false
	}
	p.r.recordIn("source")
	return true
}

// Run executes the route until end of input, cancellation, or an
// unrecoverable source error. It blocks; the supervisor runs it in its own
// goroutine.
func (r *Route) Run(ctx context.Context) error {
	if r.State() == StateFailed {
		return r.Err()
	}
	defer close(r.done)

	r.setState(StateStarting)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srcDone := make(chan error, 1)
	go func() {
		err := r.source.Start(ctx, producer{r})
		// The source has returned, so nothing produces anymore; closing
		// lets the consumer drain and observe end of input.
		r.queue.Close()
		srcDone <- err
	}()

	r.setState(StateRunning)
	r.logger.Info("route running",
		"from", r.sourceURI,
		"processors", len(r.processors),
		"sinks", len(r.sinks))

	eof := r.consume(ctx)

	r.setState(StateStopping)

	srcErr := <-srcDone
	cancel()

	// Flush open aggregation windows once, best-effort, before stopping.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), r.timeout)
	r.flushAll(flushCtx)
	flushCancel()

	r.stopDrivers()

	switch {
	case srcErr == nil || errors.Is(srcErr, context.Canceled) || errors.Is(srcErr, context.DeadlineExceeded):
		r.setState(StateStopped)
		r.logger.Info("route stopped", "eof", eof)
		return nil
	default:
		wrapped := errors.WrapSourceFatal(srcErr, "route", "Run", "source driver")
		r.setErr(wrapped)
		r.setState(StateFailed)
		r.recordError("source", wrapped)
		r.logger.Error("route failed", "error", srcErr)
		return wrapped
	}
}

// consume pulls messages from the queue and drives the chain until the
// queue closes (source finished) or the context is cancelled. The return
// reports whether the source reached end of input.
func (r *Route) consume(ctx context.Context) bool {
	for {
		var timerC <-chan time.Time
		var flushTimer *time.Timer
		if deadline, ok := r.nextDeadline(); ok {
			wait := time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
			flushTimer = time.NewTimer(wait)
			timerC = flushTimer.C
		}

		select {
		case msg, ok := <-r.queue.Dequeue():
			stopTimer(flushTimer)
			if !ok {
				return true
			}
			r.queue.Note()
			if r.metrics != nil {
				r.metrics.RecordQueueDepth(r.name, r.queue.Depth())
			}
			r.fanOut(ctx, r.runChain(ctx, []*message.Message{msg}, 0))

		case now := <-timerC:
			r.flushDue(ctx, now)

		case <-ctx.Done():
			stopTimer(flushTimer)
			return false
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// nextDeadline returns the earliest flush deadline across stateful
// processors.
func (r *Route) nextDeadline() (time.Time, bool) {
	var earliest time.Time
	for _, p := range r.processors {
		stateful, ok := p.(processor.Stateful)
		if !ok {
			continue
		}
		deadline, open := stateful.NextDeadline()
		if open && (earliest.IsZero() || deadline.Before(earliest)) {
			earliest = deadline
		}
	}
	return earliest, !earliest.IsZero()
}

// flushDue emits every due window and sends the output through the rest of
// the chain.
func (r *Route) flushDue(ctx context.Context, now time.Time) {
	for i, p := range r.processors {
		stateful, ok := p.(processor.Stateful)
		if !ok {
			continue
		}
		flushed := stateful.FlushDue(ctx, now)
		if len(flushed) == 0 {
			continue
		}
		r.recordFlush(i, len(flushed))
		r.fanOut(ctx, r.runChain(ctx, flushed, i+1))
	}
}

// flushAll drains every open window once during shutdown.
func (r *Route) flushAll(ctx context.Context) {
	for i, p := range r.processors {
		stateful, ok := p.(processor.Stateful)
		if !ok {
			continue
		}
		flushed := stateful.FlushAll(ctx)
		if len(flushed) == 0 {
			continue
		}
		r.recordFlush(i, len(flushed))
		r.fanOut(ctx, r.runChain(ctx, flushed, i+1))
	}
}

func (r *Route) recordFlush(stage int, n int) {
	if r.metrics == nil {
		return
	}
	label := r.stageLabel(stage)
	for j := 0; j < n; j++ {
		r.metrics.RecordOut(r.name, label)
	}
}

// runChain applies processors from stage `from` onward. A processor error
// drops the message, counts it, and never cancels the route.
func (r *Route) runChain(ctx context.Context, msgs []*message.Message, from int) []*message.Message {
	current := msgs
	for i := from; i < len(r.processors) && len(current) > 0; i++ {
		p := r.processors[i]
		label := r.stageLabel(i)

		var next []*message.Message
		for _, msg := range current {
			r.recordIn(label)
			start := time.Now()
			outs, err := p.Process(ctx, msg)
			if r.metrics != nil {
				r.metrics.RecordProcessingTime(r.name, label, time.Since(start))
			}

			if err != nil {
				r.recordError(label, err)
				r.logger.Warn("processor dropped message",
					"processor", p.Name(),
					"stage", i+1,
					"error", err)
				continue
			}
			if len(outs) == 0 {
				r.recordDrop(label)
				continue
			}
			for range outs {
				r.recordOut(label)
			}
			next = append(next, outs...)
		}
		current = next
	}
	return current
}

// fanOut delivers each message to every sink concurrently. Per-sink order
// follows the post-processor stream because deliveries for one message
// complete before the next message starts.
func (r *Route) fanOut(ctx context.Context, msgs []*message.Message) {
	for _, msg := range msgs {
		var wg sync.WaitGroup
		for _, entry := range r.sinks {
			wg.Add(1)
			go func(entry sinkEntry) {
				defer wg.Done()
				dctx, cancel := context.WithTimeout(ctx, r.timeout)
				defer cancel()

				if err := entry.driver.Deliver(dctx, msg); err != nil {
					if r.metrics != nil {
						r.metrics.RecordDeliveryFailure(r.name, entry.scheme)
					}
					r.recordError("sink:"+entry.scheme, err)
					r.logger.Warn("delivery failed",
						"sink", entry.uri,
						"error", err)
					return
				}
				r.recordOut("sink:" + entry.scheme)
			}(entry)
		}
		wg.Wait()
	}
}

// stopDrivers stops the source and every sink with a bounded wait.
func (r *Route) stopDrivers() {
	if err := r.source.Stop(r.timeout); err != nil {
		r.logger.Warn("source stop failed", "error", err)
	}
	for _, entry := range r.sinks {
		if err := entry.driver.Stop(r.timeout); err != nil {
			r.logger.Warn("sink stop failed", "sink", entry.uri, "error", err)
		}
	}
}

func (r *Route) stageLabel(i int) string {
	return fmt.Sprintf("%d:%s", i+1, r.processors[i].Name())
}

func (r *Route) recordIn(stage string) {
	if r.metrics != nil {
		r.metrics.RecordIn(r.name, stage)
	}
}

func (r *Route) recordOut(stage string) {
	if r.metrics != nil {
		r.metrics.RecordOut(r.name, stage)
	}
}

func (r *Route) recordDrop(stage string) {
	if r.metrics != nil {
		r.metrics.RecordDrop(r.name, stage)
	}
}

func (r *Route) recordError(stage string, err error) {
	if r.metrics == nil {
		return
	}
	kind := "unknown"
	if k, ok := errors.KindOf(err); ok {
		kind = k.String()
	}
	r.metrics.RecordError(r.name, stage, kind)
	if errors.IsKind(err, errors.KindExternalTimeout) {
		r.metrics.RecordExternalTimeout(r.name, stage)
	}
}
