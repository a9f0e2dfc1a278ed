// Package metric owns the Prometheus registry for an avflow process.
//
// NewMetricsRegistry registers the core runtime metrics (node state, buffer
// throughput, process latency and outcomes, limiter occupancy, queue depth,
// diagnostics) together with the Go runtime and process collectors. Other
// packages add their own collectors through the Register* methods, keyed by
// "service.metric"; registering the same key twice is an Invalid error.
//
// Server exposes the registry at /metrics:
//
//	srv := metric.NewServer(":9090", "/metrics", registry, nil)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
package metric
