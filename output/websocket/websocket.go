// Package websocket provides the ws:// sink: each message is written as one
// JSON text frame over a websocket connection.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

const dialTimeout = 10 * time.Second

// Sink writes messages to a websocket peer.
type Sink struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	sent atomic.Int64
}

// New creates a websocket sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: ws sink needs a host", errors.ErrInvalidConfig),
			"ws-sink", "New", "parse address")
	}

	host := ep.Host
	if ep.Port != 0 {
		host = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	}

	return &Sink{
		url:    fmt.Sprintf("ws://%s%s", host, ep.Path),
		logger: deps.GetLoggerWithComponent("ws-sink"),
	}, nil
}

// Deliver implements endpoint.Sink. The connection is dialed on first
// delivery; a write failure drops the connection so the next delivery
// redials.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	payload, err := msg.MarshalJSON()
	if err != nil {
		return errors.WrapDelivery(err, "ws-sink", "Deliver", "encode payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
		if err != nil {
			return errors.WrapDelivery(err, "ws-sink", "Deliver", "dial peer")
		}
		s.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.conn.Close()
		s.conn = nil
		return errors.WrapDelivery(err, "ws-sink", "Deliver", "write frame")
	}

	s.sent.Add(1)
	return nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
