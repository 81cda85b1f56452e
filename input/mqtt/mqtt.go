// Package mqtt provides the mqtt:// source: subscribe to a topic and emit
// each received payload as a message.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/pkg/retry"
)

// connectTimeout bounds one broker connect attempt.
const connectTimeout = 10 * time.Second

// Source subscribes to a topic and emits each publication.
type Source struct {
	broker string
	topic  string
	qos    byte
	uri    string
	route  string
	user   string
	pass   string
	logger *slog.Logger

	received atomic.Int64
	dropped  atomic.Int64
}

// New creates an MQTT source from a resolved endpoint. The URI path is the
// topic; query qos selects the subscription QoS (default 0).
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: mqtt source needs a broker host", errors.ErrInvalidConfig),
			"mqtt-source", "New", "parse broker")
	}
	topic := topicFromPath(ep.Path)
	if topic == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: mqtt source needs a topic path", errors.ErrInvalidConfig),
			"mqtt-source", "New", "parse topic")
	}

	port := ep.Port
	if port == 0 {
		port = 1883
	}
	qos, err := strconv.Atoi(ep.Param("qos", "0"))
	if err != nil || qos < 0 || qos > 2 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: invalid qos %q", errors.ErrInvalidConfig, ep.Param("qos", "0")),
			"mqtt-source", "New", "parse qos")
	}

	return &Source{
		broker: fmt.Sprintf("tcp://%s:%d", ep.Host, port),
		topic:  topic,
		qos:    byte(qos),
		uri:    ep.Raw,
		route:  deps.Route,
		user:   ep.User,
		pass:   ep.Password,
		logger: deps.GetLoggerWithComponent("mqtt-source"),
	}, nil
}

// Start implements endpoint.Source.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(fmt.Sprintf("routeflow-%s-src", s.route)).
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
		return errors.WrapEndpointStart(err, "mqtt-source", "Start", "connect broker")
	}
	defer client.Disconnect(250)

	handler := func(_ pahomqtt.Client, m pahomqtt.Message) {
		msg := message.New(s.route, s.uri).
			Set("topic", m.Topic()).
			Set("qos", int(m.Qos())).
			Set("payload", m.Payload())
		if utf8.Valid(m.Payload()) {
			msg.Set(message.KeyBody, string(m.Payload()))
		}

		// Broker callbacks must not block on a full queue.
		if out.TryEmit(msg) {
			s.received.Add(1)
		} else {
			s.dropped.Add(1)
		}
	}

	token := client.Subscribe(s.topic, s.qos, handler)
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		err := token.Error()
		if err == nil {
			err = fmt.Errorf("subscribe to %s timed out", s.topic)
		}
		return errors.WrapEndpointStart(err, "mqtt-source", "Start", "subscribe topic")
	}

	s.logger.Info("mqtt source subscribed", "broker", s.broker, "topic", s.topic, "qos", s.qos)

	<-ctx.Done()
	if token := client.Unsubscribe(s.topic); token != nil {
		token.WaitTimeout(time.Second)
	}
	return ctx.Err()
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
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

// topicFromPath strips the URI path's leading slash; MQTT topics have none.
func topicFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
