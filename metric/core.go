package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core per-route and per-processor metrics of the
// engine. The "stage" label identifies a processor by position and type
// (e.g. "1:filter") or a sink by its scheme; "route" scopes every series to
// the route that produced it.
type Metrics struct {
	RouteState       *prometheus.GaugeVec
	MessagesIn       *prometheus.CounterVec
	MessagesOut      *prometheus.CounterVec
	Drops            *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	ExternalTimeouts *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	ProcessingTime   *prometheus.HistogramVec
	QueueDepth       *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all core engine metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RouteState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "routeflow",
				Subsystem: "route",
				Name:      "state",
				Help:      "Route state (0=created, 1=starting, 2=running, 3=stopping, 4=stopped, 5=failed)",
			},
			[]string{"route"},
		),

		MessagesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "messages",
				Name:      "in_total",
				Help:      "Messages entering a stage",
			},
			[]string{"route", "stage"},
		),

		MessagesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "messages",
				Name:      "out_total",
				Help:      "Messages leaving a stage",
			},
			[]string{"route", "stage"},
		),

		Drops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "messages",
				Name:      "drops_total",
				Help:      "Messages dropped by a stage (filter miss, aggregate buffering, queue overflow)",
			},
			[]string{"route", "stage"},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Errors by stage and kind",
			},
			[]string{"route", "stage", "kind"},
		),

		ExternalTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "external",
				Name:      "timeouts_total",
				Help:      "External subprocess deadline overruns",
			},
			[]string{"route", "stage"},
		),

		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeflow",
				Subsystem: "delivery",
				Name:      "failures_total",
				Help:      "Per-sink delivery failures",
			},
			[]string{"route", "sink"},
		),

		ProcessingTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routeflow",
				Subsystem: "processing",
				Name:      "time_ms",
				Help:      "Per-stage processing time in milliseconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"route", "stage"},
		),

		QueueDepth: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routeflow",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Route queue depth observed at each dequeue",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
			},
			[]string{"route"},
		),
	}
}

// RecordRouteState updates the route state gauge.
func (m *Metrics) RecordRouteState(route string, state int) {
	m.RouteState.WithLabelValues(route).Set(float64(state))
}

// RecordIn increments the messages_in counter for a stage.
func (m *Metrics) RecordIn(route, stage string) {
	m.MessagesIn.WithLabelValues(route, stage).Inc()
}

// RecordOut increments the messages_out counter for a stage.
func (m *Metrics) RecordOut(route, stage string) {
	m.MessagesOut.WithLabelValues(route, stage).Inc()
}

// RecordDrop increments the drop counter for a stage.
func (m *Metrics) RecordDrop(route, stage string) {
	m.Drops.WithLabelValues(route, stage).Inc()
}

// RecordError increments the error counter for a stage with an error kind.
func (m *Metrics) RecordError(route, stage, kind string) {
	m.Errors.WithLabelValues(route, stage, kind).Inc()
}

// RecordExternalTimeout increments the subprocess timeout counter.
func (m *Metrics) RecordExternalTimeout(route, stage string) {
	m.ExternalTimeouts.WithLabelValues(route, stage).Inc()
}

// RecordDeliveryFailure increments the per-sink failure counter.
func (m *Metrics) RecordDeliveryFailure(route, sink string) {
	m.DeliveryFailures.WithLabelValues(route, sink).Inc()
}

// RecordProcessingTime records the time a stage spent on one message.
func (m *Metrics) RecordProcessingTime(route, stage string, d time.Duration) {
	m.ProcessingTime.WithLabelValues(route, stage).Observe(float64(d.Microseconds()) / 1000.0)
}

// RecordQueueDepth records the queue depth observed at a dequeue.
func (m *Metrics) RecordQueueDepth(route string, depth int) {
	m.QueueDepth.WithLabelValues(route).Observe(float64(depth))
}
