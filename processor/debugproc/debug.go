// Package debugproc provides the debug passthrough processor.
package debugproc

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

// Config holds configuration for the debug processor.
type Config struct {
	Prefix string `json:"prefix"`
}

// Processor writes each message to the log stream verbatim and forwards it
// unchanged.
type Processor struct {
	prefix string
	logger *slog.Logger
}

// New creates a debug processor from its raw configuration block.
func New(raw json.RawMessage, deps endpoint.Dependencies) (processor.Processor, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapConfig(err, "debug", "New", "config unmarshal")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "DEBUG"
	}

	return &Processor{
		prefix: cfg.Prefix,
		logger: deps.GetLoggerWithComponent("debug"),
	}, nil
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return "debug" }

// Process implements processor.Processor.
func (p *Processor) Process(_ context.Context, msg *message.Message) ([]*message.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(msg.String(message.KeyBody))
	}
	p.logger.Info(p.prefix, "message", string(data))
	return []*message.Message{msg}, nil
}
