package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/avflow/errors"
)

// Namespace prefixes every metric the runtime exports.
const Namespace = "avflow"

// MetricsRegistry owns a private Prometheus registry. Packages register
// their collectors under a service name so one package can release them
// again without knowing about the others.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	byKey map[string]prometheus.Collector
}

// NewMetricsRegistry returns a registry holding the Go and process
// collectors and the shared node metrics.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		byKey: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry is what the /metrics handler gathers from.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the node metrics, or nil for a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.core
}

func (r *MetricsRegistry) RegisterCounter(service, name string, c prometheus.Counter) error {
	return r.add("RegisterCounter", service, name, c)
}

func (r *MetricsRegistry) RegisterGauge(service, name string, g prometheus.Gauge) error {
	return r.add("RegisterGauge", service, name, g)
}

func (r *MetricsRegistry) RegisterHistogram(service, name string, h prometheus.Histogram) error {
	return r.add("RegisterHistogram", service, name, h)
}

func (r *MetricsRegistry) RegisterCounterVec(service, name string, v *prometheus.CounterVec) error {
	return r.add("RegisterCounterVec", service, name, v)
}

func (r *MetricsRegistry) RegisterGaugeVec(service, name string, v *prometheus.GaugeVec) error {
	return r.add("RegisterGaugeVec", service, name, v)
}

func (r *MetricsRegistry) RegisterHistogramVec(service, name string, v *prometheus.HistogramVec) error {
	return r.add("RegisterHistogramVec", service, name, v)
}

func registryKey(service, name string) string {
	return service + "." + name
}

// add fails with an invalid error when service already holds name or when
// Prometheus already knows an identical descriptor.
func (r *MetricsRegistry) add(method, service, name string, c prometheus.Collector) error {
	key := registryKey(service, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byKey[key]; dup {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", method, "register metric")
	}

	err := r.prom.Register(c)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		r.byKey[key] = c
		return nil
	case stderrors.As(err, &already):
		return errors.WrapInvalid(err, "MetricsRegistry", method, "register "+key)
	default:
		return errors.WrapFatal(err, "MetricsRegistry", method, "register "+key)
	}
}

// Unregister drops name from service and reports whether it was there.
func (r *MetricsRegistry) Unregister(service, name string) bool {
	key := registryKey(service, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.byKey, key)
	return true
}
