// Package udp provides the udp:// source: a datagram listener that emits
// one message per received packet.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/metric"
)

// socketBufferSize asks the OS for a large receive buffer so bursts are not
// dropped at the kernel.
const socketBufferSize = 2 * 1024 * 1024

// maxDatagram covers any UDP packet size.
const maxDatagram = 65536

// Metrics holds Prometheus metrics for the UDP source.
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  prometheus.Counter
	socketErrors    prometheus.Counter
}

// newMetrics creates and registers UDP source metrics. A nil registry
// disables them.
func newMetrics(registry *metric.MetricsRegistry, route string, port int) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"route": route}
	metrics := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routeflow", Subsystem: "udp", Name: "packets_received_total",
			Help: "Total UDP packets received", ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routeflow", Subsystem: "udp", Name: "bytes_received_total",
			Help: "Total bytes received from UDP", ConstLabels: labels,
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routeflow", Subsystem: "udp", Name: "packets_dropped_total",
			Help: "Packets dropped because the route queue was full", ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routeflow", Subsystem: "udp", Name: "socket_errors_total",
			Help: "Socket read errors encountered", ConstLabels: labels,
		}),
	}

	service := fmt.Sprintf("udp_%d", port)
	if err := registry.RegisterCounter(service, "packets_received", metrics.packetsReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes_received", metrics.bytesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "packets_dropped", metrics.packetsDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "socket_errors", metrics.socketErrors); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Source listens for UDP datagrams and emits each as a message.
type Source struct {
	bind   string
	port   int
	uri    string
	route  string
	logger *slog.Logger

	conn *net.UDPConn

	packetsReceived atomic.Int64
	packetsDropped  atomic.Int64
	readErrors      atomic.Int64

	metrics *Metrics
}

// New creates a UDP source from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Port == 0 {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: udp source needs host:port", errors.ErrInvalidConfig),
			"udp-source", "New", "parse address")
	}

	metrics, err := newMetrics(deps.Metrics, deps.Route, ep.Port)
	if err != nil {
		deps.GetLogger().Error("udp source metrics init failed", "error", err)
		metrics = nil
	}

	return &Source{
		bind:    ep.Host,
		port:    ep.Port,
		uri:     ep.Raw,
		route:   deps.Route,
		logger:  deps.GetLoggerWithComponent("udp-source"),
		metrics: metrics,
	}, nil
}

// Start implements endpoint.Source.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.bind, s.port))
	if err != nil {
		return errors.WrapEndpointStart(err, "udp-source", "Start", "resolve address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapEndpointStart(err, "udp-source", "Start", "bind socket")
	}
	s.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		// Some systems cap the buffer; a smaller one still works.
		s.logger.Warn("could not set UDP buffer size", "size", socketBufferSize, "error", err)
	}

	s.logger.Info("udp source listening", "bind", s.bind, "port", s.port)

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Short read deadline keeps cancellation responsive.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.readErrors.Add(1)
			if s.metrics != nil {
				s.metrics.socketErrors.Inc()
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.packetsReceived.Add(1)
		if s.metrics != nil {
			s.metrics.packetsReceived.Inc()
			s.metrics.bytesReceived.Add(float64(n))
		}

		msg := message.New(s.route, s.uri).
			Set("remote_addr", remote.String()).
			Set("payload", data)
		if utf8.Valid(data) {
			msg.Set(message.KeyBody, string(data))
		}

		// Datagrams cannot wait for a full queue.
		if !out.TryEmit(msg) {
			s.packetsDropped.Add(1)
			if s.metrics != nil {
				s.metrics.packetsDropped.Inc()
			}
		}
	}
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}
