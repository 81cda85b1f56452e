// Package kafka provides the kafka:// source: consume a topic from the
// newest offset and emit each record as a message.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/IBM/sarama"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/pkg/retry"
)

// Source consumes every partition of one topic.
type Source struct {
	brokers []string
	topic   string
	uri     string
	route   string
	logger  *slog.Logger

	received atomic.Int64
	dropped  atomic.Int64
}

// New creates a Kafka source from a resolved endpoint. The URI path is the
// topic.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: kafka source needs a broker host", errors.ErrInvalidConfig),
			"kafka-source", "New", "parse broker")
	}
	topic := topicFromPath(ep.Path)
	if topic == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: kafka source needs a topic path", errors.ErrInvalidConfig),
			"kafka-source", "New", "parse topic")
	}

	port := ep.Port
	if port == 0 {
		port = 9092
	}

	return &Source{
		brokers: []string{fmt.Sprintf("%s:%d", ep.Host, port)},
		topic:   topic,
		uri:     ep.Raw,
		route:   deps.Route,
		logger:  deps.GetLoggerWithComponent("kafka-source"),
	}, nil
}

// Start implements endpoint.Source.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	var consumer sarama.Consumer
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		consumer, err = sarama.NewConsumer(s.brokers, cfg)
		// Rejected credentials never heal on their own; fail the connect now.
		if err != nil && errors.Is(err, sarama.ErrSASLAuthenticationFailed) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return errors.WrapEndpointStart(err, "kafka-source", "Start", "connect brokers")
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(s.topic)
	if err != nil {
		return errors.WrapEndpointStart(err, "kafka-source", "Start", "list partitions")
	}

	s.logger.Info("kafka source consuming",
		"brokers", s.brokers, "topic", s.topic, "partitions", len(partitions))

	var wg sync.WaitGroup
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(s.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return errors.WrapEndpointStart(err,
				"kafka-source", "Start", fmt.Sprintf("consume partition %d", partition))
		}

		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			defer pc.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-pc.Messages():
					if !ok {
						return
					}
					s.handleRecord(out, m)
				case err, ok := <-pc.Errors():
					if !ok {
						return
					}
					s.logger.Warn("kafka consume error", "error", err)
				}
			}
		}(pc)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (s *Source) handleRecord(out endpoint.Producer, m *sarama.ConsumerMessage) {
	msg := message.New(s.route, s.uri).
		Set("topic", m.Topic).
		Set("partition", int(m.Partition)).
		Set("offset", m.Offset).
		Set("payload", m.Value)
	if len(m.Key) > 0 {
		msg.Set("key", string(m.Key))
	}
	if utf8.Valid(m.Value) {
		msg.Set(message.KeyBody, string(m.Value))
	}

	// Partition consumers must not block on a full queue.
	if out.TryEmit(msg) {
		s.received.Add(1)
	} else {
		s.dropped.Add(1)
	}
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}

func topicFromPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
