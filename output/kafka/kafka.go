// Package kafka provides the kafka:// sink: produce each message body to a
// topic with the message id as the record key.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/pkg/retry"
)

// Sink produces messages to a Kafka topic.
type Sink struct {
	brokers []string
	topic   string
	logger  *slog.Logger

	mu       sync.Mutex
	producer sarama.SyncProducer

	produced atomic.Int64
}

// New creates a Kafka sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: kafka sink needs a broker host", errors.ErrInvalidConfig),
			"kafka-sink", "New", "parse broker")
	}
	topic := topicFromPath(ep.Path)
	if topic == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: kafka sink needs a topic path", errors.ErrInvalidConfig),
			"kafka-sink", "New", "parse topic")
	}

	port := ep.Port
	if port == 0 {
		port = 9092
	}

	return &Sink{
		brokers: []string{fmt.Sprintf("%s:%d", ep.Host, port)},
		topic:   topic,
		logger:  deps.GetLoggerWithComponent("kafka-sink"),
	}, nil
}

// Deliver implements endpoint.Sink. The producer is created on first
// delivery and reused.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	producer, err := s.connect(ctx)
	if err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(msg.Render()),
	}
	if id := msg.ID(); id != "" {
		record.Key = sarama.StringEncoder(id)
	}

	if _, _, err := producer.SendMessage(record); err != nil {
		return errors.WrapDelivery(err, "kafka-sink", "Deliver", "produce record")
	}

	s.produced.Add(1)
	return nil
}

func (s *Sink) connect(ctx context.Context) (sarama.SyncProducer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.producer != nil {
		return s.producer, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	var producer sarama.SyncProducer
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		producer, err = sarama.NewSyncProducer(s.brokers, cfg)
		// Rejected credentials never heal on their own; fail the connect now.
		if err != nil && errors.Is(err, sarama.ErrSASLAuthenticationFailed) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return nil, errors.WrapDelivery(err, "kafka-sink", "Deliver", "connect brokers")
	}

	s.producer = producer
	return producer, nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer != nil {
		err := s.producer.Close()
		s.producer = nil
		return err
	}
	return nil
}

func topicFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
