package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/metric"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Pool processes work items of type T on a fixed set of goroutines.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	process   func(context.Context, T) error

	work    chan T
	metrics *poolMetrics
	logger  *slog.Logger
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
}

type poolMetrics struct {
	items      *prometheus.CounterVec
	queueDepth prometheus.Gauge
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's metrics under name. Two pools sharing a
// registry need distinct names.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets the logger used for recovered panics.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a stopped pool. Non-positive sizes select defaults.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if process == nil {
		return nil, errors.WrapFatal(ErrNilProcessor, "Pool", "NewPool", "validate processor")
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		name:      "pool",
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		work:      make(chan T, queueSize),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker", "pool", p.name)

	if p.registry != nil {
		m, err := newPoolMetrics(p.registry, p.name)
		if err != nil {
			return nil, errors.Wrap(err, "Pool", "NewPool", "register metrics")
		}
		p.metrics = m
	}
	return p, nil
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "items_total",
			Help:        "Work items by result: submitted, processed, failed, dropped",
			ConstLabels: labels,
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Work items waiting for a worker",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "duration_seconds",
			Help:        "Time spent processing one work item",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}

	service := "worker_" + name
	if err := registry.RegisterCounterVec(service, "items_total", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "queue_depth", m.queueDepth); err != nil {
		registry.Unregister(service, "items_total")
		return nil, err
	}
	if err := registry.RegisterHistogram(service, "duration_seconds", m.duration); err != nil {
		registry.Unregister(service, "items_total")
		registry.Unregister(service, "queue_depth")
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) count(result string) {
	if m != nil {
		m.items.WithLabelValues(result).Inc()
	}
}

func (m *poolMetrics) depth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *poolMetrics) observe(d time.Duration) {
	if m != nil {
		m.duration.Observe(d.Seconds())
	}
}

// Submit queues one work item without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.work <- work:
		p.submitted.Add(1)
		p.metrics.count("submitted")
		p.metrics.depth(len(p.work))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.count("dropped")
		return errors.WrapTransient(ErrQueueFull, "Pool", "Submit", fmt.Sprintf("queue of %d", p.queueSize))
	}
}

// Start launches the workers. Cancelling ctx makes them exit after their
// current item, abandoning whatever is still queued.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for the workers to drain it.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.work)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.work:
			if !ok || ctx.Err() != nil {
				return
			}
			p.metrics.depth(len(p.work))

			start := time.Now()
			err := p.run(ctx, work)
			p.metrics.observe(time.Since(start))

			p.processed.Add(1)
			p.metrics.count("processed")
			if err != nil {
				p.failed.Add(1)
				p.metrics.count("failed")
			}
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("work item panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
	}()
	return p.process(ctx, work)
}
