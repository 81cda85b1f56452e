// Package natsio provides the nats:// source: subscribe to a subject and
// emit each publication as a message.
package natsio

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/natsclient"
)

// Source subscribes to a NATS subject.
type Source struct {
	url     string
	subject string
	uri     string
	route   string
	logger  *slog.Logger

	received atomic.Int64
	dropped  atomic.Int64
}

// New creates a NATS source from a resolved endpoint. The URI path is the
// subject; NATS subject wildcards pass through unchanged.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: nats source needs a server host", errors.ErrInvalidConfig),
			"nats-source", "New", "parse server")
	}
	subject := subjectFromPath(ep.Path)
	if subject == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: nats source needs a subject path", errors.ErrInvalidConfig),
			"nats-source", "New", "parse subject")
	}

	port := ep.Port
	if port == 0 {
		port = 4222
	}
	url := fmt.Sprintf("nats://%s:%d", ep.Host, port)
	if ep.User != "" {
		url = fmt.Sprintf("nats://%s:%s@%s:%d", ep.User, ep.Password, ep.Host, port)
	}

	return &Source{
		url:     url,
		subject: subject,
		uri:     ep.Raw,
		route:   deps.Route,
		logger:  deps.GetLoggerWithComponent("nats-source"),
	}, nil
}

// Start implements endpoint.Source.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	client, err := natsclient.Connect(ctx, s.url, s.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Conn().Subscribe(s.subject, func(m *nats.Msg) {
		msg := message.New(s.route, s.uri).
			Set("subject", m.Subject).
			Set("payload", m.Data)
		if utf8.Valid(m.Data) {
			msg.Set(message.KeyBody, string(m.Data))
		}

		// NATS callbacks must not block on a full queue.
		if out.TryEmit(msg) {
			s.received.Add(1)
		} else {
			s.dropped.Add(1)
		}
	})
	if err != nil {
		return errors.WrapEndpointStart(err, "nats-source", "Start", "subscribe subject")
	}
	defer func() { _ = sub.Unsubscribe() }()

	s.logger.Info("nats source subscribed", "url", s.url, "subject", s.subject)

	<-ctx.Done()
	return ctx.Err()
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}

func subjectFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
