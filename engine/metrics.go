package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avflow/metric"
)

// engineMetrics holds Prometheus metrics for graph operations.
type engineMetrics struct {
	builds        *prometheus.CounterVec   // By kind and status
	buildDuration *prometheus.HistogramVec // By kind
	links         *prometheus.CounterVec   // By type (streamlet, node, subscribe) and status
	events        *prometheus.CounterVec   // By event kind and status
	loads         *prometheus.CounterVec   // By status
}

// newEngineMetrics creates and registers engine metrics with registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "streamlet_builds_total",
			Help:      "Total number of streamlet build attempts",
		}, []string{"kind", "status"}),

		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "streamlet_build_duration_seconds",
			Help:      "Streamlet build duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"kind"}),

		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "links_total",
			Help:      "Total number of link and unlink operations",
		}, []string{"type", "status"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "dynamic_events_total",
			Help:      "Total number of dynamic events sent to nodes",
		}, []string{"event", "status"}),

		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "graph_loads_total",
			Help:      "Total number of graph loads",
		}, []string{"status"}),
	}

	if err := registry.RegisterCounterVec("engine", "builds", m.builds); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "build_duration", m.buildDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "links", m.links); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "events", m.events); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "loads", m.loads); err != nil {
		return nil, err
	}

	return m, nil
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *engineMetrics) recordBuild(kind string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(kind, status(err)).Inc()
	m.buildDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *engineMetrics) recordLink(linkType string, err error) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(linkType, status(err)).Inc()
}

func (m *engineMetrics) recordEvent(kind string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, status(err)).Inc()
}

func (m *engineMetrics) recordLoad(err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(status(err)).Inc()
}
