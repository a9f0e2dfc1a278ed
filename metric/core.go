package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the runtime-level metrics shared by every node.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	NodeState        *prometheus.GaugeVec
	BuffersReceived  *prometheus.CounterVec
	BuffersDelivered *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
	ProcessOutcomes  *prometheus.CounterVec
	LimiterInFlight  *prometheus.GaugeVec
	QueueDepth       *prometheus.GaugeVec
	Diagnostics      *prometheus.CounterVec
	StreamletsActive prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		NodeState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "state",
				Help:      "Node state (0=created, 1=started, 2=paused, 3=stopped)",
			},
			[]string{"node", "category"},
		),

		BuffersReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "buffers_received_total",
				Help:      "Total number of buffers taken from the input queue",
			},
			[]string{"node"},
		),

		BuffersDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "buffers_delivered_total",
				Help:      "Total number of buffers delivered downstream",
			},
			[]string{"node"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "events_published_total",
				Help:      "Total number of peer events broadcast to subscribers",
			},
			[]string{"node"},
		),

		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "process_duration_seconds",
				Help:      "Implementation process call duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"node"},
		),

		ProcessOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "process_outcomes_total",
				Help:      "Process call outcomes (ok, again, eof, fatal, error)",
			},
			[]string{"node", "outcome"},
		),

		LimiterInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "limiter",
				Name:      "in_flight",
				Help:      "Buffers produced by a node and not yet released downstream",
			},
			[]string{"node"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "node",
				Name:      "queue_depth",
				Help:      "Buffers waiting in a node input queue",
			},
			[]string{"node"},
		),

		Diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "diagnostics",
				Name:      "messages_total",
				Help:      "Diagnostic messages recorded by severity",
			},
			[]string{"severity"},
		),

		StreamletsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "river",
				Name:      "streamlets",
				Help:      "Streamlets currently held by the river",
			},
		),
	}
}

// RecordNodeState updates the node state gauge
func (c *Metrics) RecordNodeState(node, category string, state int) {
	if c == nil {
		return
	}
	c.NodeState.WithLabelValues(node, category).Set(float64(state))
}

// RecordBufferReceived increments the received buffer counter
func (c *Metrics) RecordBufferReceived(node string) {
	if c == nil {
		return
	}
	c.BuffersReceived.WithLabelValues(node).Inc()
}

// RecordBuffersDelivered adds n delivered buffers
func (c *Metrics) RecordBuffersDelivered(node string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.BuffersDelivered.WithLabelValues(node).Add(float64(n))
}

// RecordEventsPublished adds n broadcast events
func (c *Metrics) RecordEventsPublished(node string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.EventsPublished.WithLabelValues(node).Add(float64(n))
}

// RecordProcess records one process call and its outcome
func (c *Metrics) RecordProcess(node, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ProcessDuration.WithLabelValues(node).Observe(duration.Seconds())
	c.ProcessOutcomes.WithLabelValues(node, outcome).Inc()
}

// RecordLimiterInFlight sets the limiter gauge
func (c *Metrics) RecordLimiterInFlight(node string, n int) {
	if c == nil {
		return
	}
	c.LimiterInFlight.WithLabelValues(node).Set(float64(n))
}

// RecordQueueDepth sets the input queue depth gauge
func (c *Metrics) RecordQueueDepth(node string, n int) {
	if c == nil {
		return
	}
	c.QueueDepth.WithLabelValues(node).Set(float64(n))
}

// RecordDiagnostic increments the diagnostics counter
func (c *Metrics) RecordDiagnostic(severity string) {
	if c == nil {
		return
	}
	c.Diagnostics.WithLabelValues(severity).Inc()
}

// RecordStreamlets sets the active streamlet gauge
func (c *Metrics) RecordStreamlets(n int) {
	if c == nil {
		return
	}
	c.StreamletsActive.Set(float64(n))
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.NodeState,
		c.BuffersReceived,
		c.BuffersDelivered,
		c.EventsPublished,
		c.ProcessDuration,
		c.ProcessOutcomes,
		c.LimiterInFlight,
		c.QueueDepth,
		c.Diagnostics,
		c.StreamletsActive,
	}
}
