// Package mqtt provides the mqtt:// sink: publish each message body to a
// topic, QoS 0 by default.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/pkg/retry"
)

const connectTimeout = 10 * time.Second

// Sink publishes messages to an MQTT topic.
type Sink struct {
	broker string
	topic  string
	qos    byte
	retain bool
	user   string
	pass   string
	route  string
	logger *slog.Logger

	mu     sync.Mutex
	client pahomqtt.Client

	published atomic.Int64
}

// New creates an MQTT sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: mqtt sink needs a broker host", errors.ErrInvalidConfig),
			"mqtt-sink", "New", "parse broker")
	}
	topic := topicFromPath(ep.Path)
	if topic == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: mqtt sink needs a topic path", errors.ErrInvalidConfig),
			"mqtt-sink", "New", "parse topic")
	}

	port := ep.Port
	if port == 0 {
		port = 1883
	}
	qos, err := strconv.Atoi(ep.Param("qos", "0"))
	if err != nil || qos < 0 || qos > 2 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: invalid qos %q", errors.ErrInvalidConfig, ep.Param("qos", "0")),
			"mqtt-sink", "New", "parse qos")
	}

	return &Sink{
		broker: fmt.Sprintf("tcp://%s:%d", ep.Host, port),
		topic:  topic,
		qos:    byte(qos),
		retain: ep.Param("retain", "false") == "true",
		user:   ep.User,
		pass:   ep.Password,
		route:  deps.Route,
		logger: deps.GetLoggerWithComponent("mqtt-sink"),
	}, nil
}

// Deliver implements endpoint.Sink. The broker connection is established on
// first delivery and reused.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	token := client.Publish(s.topic, s.qos, s.retain, msg.Render())

	deadline := connectTimeout
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !token.WaitTimeout(deadline) {
		return errors.WrapDelivery(
			fmt.Errorf("%w: publish to %s timed out", errors.ErrDeliveryFailed, s.topic),
			"mqtt-sink", "Deliver", "publish")
	}
	if token.Error() != nil {
		return errors.WrapDelivery(token.Error(), "mqtt-sink", "Deliver", "publish")
	}

	s.published.Add(1)
	return nil
}

func (s *Sink) connect(ctx context.Context) (pahomqtt.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		return s.client, nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(fmt.Sprintf("routeflow-%s-sink", s.route)).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	if s.user != "" {
		opts.SetUsername(s.user)
		opts.SetPassword(s.pass)
	}

	client := pahomqtt.NewClient(opts)
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		token := client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connect to %s timed out", s.broker)
		}
		return classifyConnectErr(token.Error())
	})
	if err != nil {
		return nil, errors.WrapDelivery(err, "mqtt-sink", "Deliver", "connect broker")
	}

	s.client = client
	return client, nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

// classifyConnectErr marks broker refusals that retrying cannot fix.
func classifyConnectErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return retry.NonRetryable(err)
	}
	return err
}

func topicFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
