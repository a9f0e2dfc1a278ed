package natsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avflow/metric"
)

const metricsService = "nats"

type clientMetrics struct {
	status    prometheus.Gauge
	failures  prometheus.Counter
	published *prometheus.CounterVec
	requests  *prometheus.CounterVec
}

func newClientMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	m := &clientMetrics{
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=circuit open)",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "published_total",
			Help:      "Messages published by result",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "requests_total",
			Help:      "Requests served by subject and result",
		}, []string{"subject", "result"}),
	}

	if err := registry.RegisterGauge(metricsService, "connection_status", m.status); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "connect_failures", m.failures); err != nil {
		registry.Unregister(metricsService, "connection_status")
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "published", m.published); err != nil {
		registry.Unregister(metricsService, "connection_status")
		registry.Unregister(metricsService, "connect_failures")
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "requests", m.requests); err != nil {
		registry.Unregister(metricsService, "connection_status")
		registry.Unregister(metricsService, "connect_failures")
		registry.Unregister(metricsService, "published")
		return nil, err
	}
	return m, nil
}
