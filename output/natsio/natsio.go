// Package natsio provides the nats:// sink: publish each message body to a
// subject.
package natsio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/natsclient"
)

// Sink publishes messages to a NATS subject.
type Sink struct {
	url     string
	subject string
	logger  *slog.Logger

	mu     sync.Mutex
	client *natsclient.Client

	published atomic.Int64
}

// New creates a NATS sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: nats sink needs a server host", errors.ErrInvalidConfig),
			"nats-sink", "New", "parse server")
	}
	subject := subjectFromPath(ep.Path)
	if subject == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: nats sink needs a subject path", errors.ErrInvalidConfig),
			"nats-sink", "New", "parse subject")
	}

	port := ep.Port
	if port == 0 {
		port = 4222
	}
	url := fmt.Sprintf("nats://%s:%d", ep.Host, port)
	if ep.User != "" {
		url = fmt.Sprintf("nats://%s:%s@%s:%d", ep.User, ep.Password, ep.Host, port)
	}

	return &Sink{
		url:     url,
		subject: subject,
		logger:  deps.GetLoggerWithComponent("nats-sink"),
	}, nil
}

// Deliver implements endpoint.Sink. The connection is established on first
// delivery and reused.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	s.mu.Lock()
	if s.client == nil {
		client, err := natsclient.Connect(ctx, s.url, s.logger)
		if err != nil {
			s.mu.Unlock()
			return errors.WrapDelivery(err, "nats-sink", "Deliver", "connect server")
		}
		s.client = client
	}
	client := s.client
	s.mu.Unlock()

	if err := client.Conn().Publish(s.subject, msg.Render()); err != nil {
		return errors.WrapDelivery(err, "nats-sink", "Deliver", "publish")
	}

	s.published.Add(1)
	return nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

func subjectFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
