// Package aggregate provides the windowed aggregation processor, the only
// stateful stage in a route. Messages accumulate into a window per group;
// a window flushes when it reaches max_size messages or when timeout has
// elapsed since its first message, whichever comes first.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

// Strategies supported by the aggregate processor.
const (
	StrategyCollect = "collect"
	StrategyCount   = "count"
)

// Config holds configuration for the aggregate processor.
type Config struct {
	Strategy string `json:"strategy"`
	Timeout  string `json:"timeout"`
	MaxSize  int    `json:"max_size"`
	GroupBy  string `json:"group_by"`
}

// window is one open aggregation window.
type window struct {
	group    string
	openedAt time.Time
	items    []*message.Message
}

// Processor accumulates messages into per-group windows. State is owned by
// the single executing route and destroyed on route stop; a mutex guards the
// windows because time-based flushes and message processing come from
// different select arms.
type Processor struct {
	strategy string
	timeout  time.Duration
	maxSize  int
	groupBy  string
	route    string
	logger   *slog.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// New creates an aggregate processor from its raw configuration block.
func New(raw json.RawMessage, deps endpoint.Dependencies) (processor.Processor, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapConfig(err, "aggregate", "New", "config unmarshal")
	}

	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCollect
	}
	if cfg.Strategy != StrategyCollect && cfg.Strategy != StrategyCount {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: unknown strategy %q", errors.ErrInvalidConfig, cfg.Strategy),
			"aggregate", "New", "strategy validation")
	}
	if cfg.MaxSize <= 0 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: max_size must be positive", errors.ErrInvalidConfig),
			"aggregate", "New", "max_size validation")
	}
	if cfg.Timeout == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "aggregate", "New", "timeout required")
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: invalid timeout %q", errors.ErrInvalidConfig, cfg.Timeout),
			"aggregate", "New", "timeout validation")
	}

	return &Processor{
		strategy: cfg.Strategy,
		timeout:  timeout,
		maxSize:  cfg.MaxSize,
		groupBy:  cfg.GroupBy,
		route:    deps.Route,
		logger:   deps.GetLoggerWithComponent("aggregate"),
		windows:  make(map[string]*window),
	}, nil
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return "aggregate" }

// Process implements processor.Processor. The incoming message is buffered;
// the return is empty unless this message filled its window.
func (p *Processor) Process(_ context.Context, msg *message.Message) ([]*message.Message, error) {
	group := ""
	if p.groupBy != "" {
		group = msg.String(p.groupBy)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.windows[group]
	if !ok {
		w = &window{group: group, openedAt: time.Now()}
		p.windows[group] = w
	}
	w.items = append(w.items, msg)

	if len(w.items) >= p.maxSize {
		delete(p.windows, group)
		return []*message.Message{p.emit(w, time.Now())}, nil
	}
	return nil, nil
}

// NextDeadline implements processor.Stateful.
func (p *Processor) NextDeadline() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var earliest time.Time
	for _, w := range p.windows {
		deadline := w.openedAt.Add(p.timeout)
		if earliest.IsZero() || deadline.Before(earliest) {
			earliest = deadline
		}
	}
	return earliest, !earliest.IsZero()
}

// FlushDue implements processor.Stateful: it emits every window whose
// timeout has elapsed at now, in window-open order.
func (p *Processor) FlushDue(_ context.Context, now time.Time) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []*window
	for group, w := range p.windows {
		if now.Sub(w.openedAt) >= p.timeout {
			due = append(due, w)
			delete(p.windows, group)
		}
	}
	return p.emitAll(due, now)
}

// FlushAll implements processor.Stateful: every open window is emitted
// regardless of deadline. Called once on end of input and on cancellation.
func (p *Processor) FlushAll(_ context.Context) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var all []*window
	for group, w := range p.windows {
		all = append(all, w)
		delete(p.windows, group)
	}
	return p.emitAll(all, time.Now())
}

// emitAll renders windows in open order so output follows window-completion
// order per group.
func (p *Processor) emitAll(windows []*window, now time.Time) []*message.Message {
	if len(windows) == 0 {
		return nil
	}
	sort.Slice(windows, func(i, j int) bool {
		return windows[i].openedAt.Before(windows[j].openedAt)
	})
	out := make([]*message.Message, len(windows))
	for i, w := range windows {
		out[i] = p.emit(w, now)
	}
	return out
}

// emit renders one window into its aggregate output message.
func (p *Processor) emit(w *window, closedAt time.Time) *message.Message {
	source := ""
	if len(w.items) > 0 {
		source = w.items[0].Source()
	}

	out := message.New(p.route, source)
	out.Set("count", len(w.items))
	out.Set("window_start", w.openedAt.UTC().Format(time.RFC3339Nano))
	out.Set("window_end", closedAt.UTC().Format(time.RFC3339Nano))
	if p.groupBy != "" {
		out.Set("group", w.group)
	}
	if p.strategy == StrategyCollect {
		items := make([]any, len(w.items))
		for i, item := range w.items {
			items[i] = item.Fields()
		}
		out.Set("items", items)
	}

	p.logger.Debug("window flushed",
		"group", w.group,
		"count", len(w.items),
		"strategy", p.strategy)
	return out
}
