// Package transform provides the template transform processor.
package transform

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/expr"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

// Config holds configuration for the transform processor.
type Config struct {
	Template string `json:"template"`
}

// Processor renders a {{var}} template against each message and emits a
// clone whose "body" field is the rendered string; all other keys are
// preserved. Missing variables render empty unless |required, which is a
// processing error.
type Processor struct {
	template string
	logger   *slog.Logger
}

// New creates a transform processor from its raw configuration block.
func New(raw json.RawMessage, deps endpoint.Dependencies) (processor.Processor, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapConfig(err, "transform", "New", "config unmarshal")
	}
	if cfg.Template == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "transform", "New", "template required")
	}

	return &Processor{
		template: cfg.Template,
		logger:   deps.GetLoggerWithComponent("transform"),
	}, nil
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return "transform" }

// Process implements processor.Processor.
func (p *Processor) Process(_ context.Context, msg *message.Message) ([]*message.Message, error) {
	rendered, err := expr.RenderTemplate(p.template, msg)
	if err != nil {
		return nil, err
	}
	out := msg.Clone().Set(message.KeyBody, rendered)
	return []*message.Message{out}, nil
}
