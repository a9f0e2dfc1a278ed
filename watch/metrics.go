package watch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avflow/metric"
)

const metricsService = "watch"

// hubMetrics is nil when metrics are disabled; every method accepts that.
type hubMetrics struct {
	clients     prometheus.Gauge
	connections prometheus.Counter
	published   prometheus.Counter
	sent        prometheus.Counter
	bytesSent   prometheus.Counter
	dropped     prometheus.Counter
	errors      *prometheus.CounterVec
}

func newHubMetrics(registry *metric.MetricsRegistry) (*hubMetrics, error) {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: metric.Namespace, Subsystem: "watch", Name: name, Help: help}
	}
	m := &hubMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "watch",
			Name:      "clients",
			Help:      "Connected watch clients",
		}),
		connections: prometheus.NewCounter(opts("connections_total", "Watch clients accepted")),
		published:   prometheus.NewCounter(opts("published_total", "Reports published to the hub")),
		sent:        prometheus.NewCounter(opts("sent_total", "Reports written to clients")),
		bytesSent:   prometheus.NewCounter(opts("sent_bytes_total", "Bytes written to clients")),
		dropped:     prometheus.NewCounter(opts("dropped_total", "Reports dropped from full client queues")),
		errors:      prometheus.NewCounterVec(opts("errors_total", "Client errors by kind"), []string{"kind"}),
	}

	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"connections", m.connections},
		{"published", m.published},
		{"sent", m.sent},
		{"sent_bytes", m.bytesSent},
		{"dropped", m.dropped},
	}
	registered := []string{}
	rollback := func() {
		for _, name := range registered {
			registry.Unregister(metricsService, name)
		}
	}

	if err := registry.RegisterGauge(metricsService, "clients", m.clients); err != nil {
		return nil, err
	}
	registered = append(registered, "clients")
	for _, c := range counters {
		if err := registry.RegisterCounter(metricsService, c.name, c.c); err != nil {
			rollback()
			return nil, err
		}
		registered = append(registered, c.name)
	}
	if err := registry.RegisterCounterVec(metricsService, "errors", m.errors); err != nil {
		rollback()
		return nil, err
	}
	return m, nil
}

func (m *hubMetrics) recordConnect(clients int) {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.clients.Set(float64(clients))
}

func (m *hubMetrics) recordDisconnect(clients int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(clients))
}

func (m *hubMetrics) recordPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *hubMetrics) recordSent(n int) {
	if m == nil {
		return
	}
	m.sent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *hubMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *hubMetrics) recordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}
