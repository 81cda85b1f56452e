// Package natsclient wraps the NATS connection shared by the nats:// source
// and sink drivers: connect with startup retry, sane reconnect options, and
// a bounded close.
package natsclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/pkg/retry"
)

// Client owns one NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials the server with exponential backoff on the initial attempt.
// Reconnects after a successful connect are handled by the NATS client
// itself.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		conn, err = nats.Connect(url, opts...)
		// Bad credentials never heal on their own; fail the connect now.
		if err != nil && errors.Is(err, nats.ErrAuthorization) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return nil, errors.WrapEndpointStart(err, "natsclient", "Connect", "dial server")
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return errors.Wrap(err, "natsclient", "Close", "drain connection")
	}
	return nil
}
