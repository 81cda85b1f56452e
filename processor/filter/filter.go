// Package filter provides the predicate filter processor.
package filter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/expr"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

// Config holds configuration for the filter processor.
type Config struct {
	Condition string `json:"condition"`
}

// Processor evaluates a boolean predicate against each message. Pass
// forwards the message unchanged; fail drops it without error. Evaluation
// failures (missing variable, type mismatch) are processing errors and also
// drop the message.
type Processor struct {
	predicate *expr.Predicate
	logger    *slog.Logger

	passed  atomic.Int64
	dropped atomic.Int64
}

// New creates a filter processor from its raw configuration block.
func New(raw json.RawMessage, deps endpoint.Dependencies) (processor.Processor, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapConfig(err, "filter", "New", "config unmarshal")
	}
	if cfg.Condition == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "filter", "New", "condition required")
	}

	predicate, err := expr.ParsePredicate(cfg.Condition)
	if err != nil {
		return nil, err
	}

	return &Processor{
		predicate: predicate,
		logger:    deps.GetLoggerWithComponent("filter"),
	}, nil
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return "filter" }

// Process implements processor.Processor.
func (p *Processor) Process(_ context.Context, msg *message.Message) ([]*message.Message, error) {
	pass, err := p.predicate.Eval(expr.MapLookup(msg.Fields()))
	if err != nil {
		return nil, err
	}
	if !pass {
		p.dropped.Add(1)
		p.logger.Debug("message filtered out",
			"condition", p.predicate.Source(),
			"message_id", msg.ID())
		return nil, nil
	}
	p.passed.Add(1)
	return []*message.Message{msg}, nil
}
