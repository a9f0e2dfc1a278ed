package streamlet

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/health"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/node"
)

// DefaultMonitorInterval is how often Monitor sweeps when not triggered.
const DefaultMonitorInterval = 3 * time.Second

// River holds streamlets keyed by tag, controls them as a whole and sweeps
// out the ones that have fully stopped.
type River struct {
	mu         sync.Mutex
	streamlets map[Tag]*Streamlet

	logger   *slog.Logger
	messages *message.Collector
	metrics  *metric.Metrics
	health   *health.Monitor
	trigger  chan struct{}

	// first failure of a streamlet Sweep removed
	sweptErr error
}

// NewRiver returns a river holding streamlets. Logger, messages and metrics
// come from deps; the registry is not used.
func NewRiver(deps node.Dependencies, streamlets ...*Streamlet) *River {
	r := &River{
		streamlets: make(map[Tag]*Streamlet, len(streamlets)),
		logger:     loggerOf(deps).With("component", "river"),
		messages:   deps.Messages,
		metrics:    deps.Metrics.CoreMetrics(),
		health:     health.NewMonitor(),
		trigger:    make(chan struct{}, 1),
	}
	for _, s := range streamlets {
		r.streamlets[s.Tag()] = s
	}
	r.metrics.RecordStreamlets(len(r.streamlets))
	return r
}

// Add inserts s under its tag. A tag already present is refused.
func (r *River) Add(s *Streamlet) error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "River", "Add", "nil streamlet")
	}
	tag := s.Tag()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streamlets[tag]; ok {
		return errors.WrapInvalid(errors.ErrKeyExists, "River", "Add", tag.String())
	}
	r.streamlets[tag] = s
	r.metrics.RecordStreamlets(len(r.streamlets))
	return nil
}

// Get returns the streamlet tagged tag.
func (r *River) Get(tag Tag) (*Streamlet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streamlets[tag]
	return s, ok
}

// Has reports whether a streamlet is tagged tag.
func (r *River) Has(tag Tag) bool {
	_, ok := r.Get(tag)
	return ok
}

// Len returns how many streamlets the river holds.
func (r *River) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streamlets)
}

// Streamlets returns every streamlet ordered by tag.
func (r *River) Streamlets() []*Streamlet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(Tag) bool { return true })
}

// ByKind returns the streamlets of kind k ordered by tag.
func (r *River) ByKind(k Kind) []*Streamlet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(t Tag) bool { return t.Kind == k })
}

func (r *River) sortedLocked(keep func(Tag) bool) []*Streamlet {
	tags := make([]Tag, 0, len(r.streamlets))
	for t := range r.streamlets {
		if keep(t) {
			tags = append(tags, t)
		}
	}
	slices.SortFunc(tags, func(a, b Tag) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	out := make([]*Streamlet, len(tags))
	for i, t := range tags {
		out[i] = r.streamlets[t]
	}
	return out
}

// Erase drops the streamlet tagged tag without stopping it.
func (r *River) Erase(tag Tag) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streamlets[tag]; !ok {
		return false
	}
	delete(r.streamlets, tag)
	r.health.Remove(tag.String())
	r.metrics.RecordStreamlets(len(r.streamlets))
	return true
}

// Clear drops every streamlet without stopping them.
func (r *River) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.streamlets)
	r.health.Clear()
	r.metrics.RecordStreamlets(0)
}

// Start starts every streamlet. Failures are joined; the streamlets that did
// start keep running.
func (r *River) Start() error {
	var errs []error
	for _, s := range r.Streamlets() {
		if err := s.Start(); err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Info("streamlet started", "streamlet", s.Tag().String())
	}
	return errors.Join(errs...)
}

// Stop asks every streamlet to stop. It does not wait.
func (r *River) Stop() {
	for _, s := range r.Streamlets() {
		s.Stop()
	}
}

// Wait blocks until every streamlet's nodes have exited or ctx ends.
func (r *River) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.Streamlets() {
		g.Go(func() error { return s.Wait(gctx) })
	}
	return g.Wait()
}

// IsStopped reports whether every streamlet has stopped.
func (r *River) IsStopped() bool {
	for _, s := range r.Streamlets() {
		if !s.IsStopped() {
			return false
		}
	}
	return true
}

// Err returns the first failure found across all streamlets, in tag order.
// Once the failed streamlets have been swept it returns the first failure
// Sweep saw.
func (r *River) Err() error {
	for _, s := range r.Streamlets() {
		if err := s.Err(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweptErr
}

// Dump lists the tags of every streamlet, one per line.
func (r *River) Dump() string {
	var b strings.Builder
	for _, s := range r.Streamlets() {
		fmt.Fprintf(&b, "[name: %s, kind: %s]\n", s.Tag().Name, s.Tag().Kind)
	}
	return b.String()
}

// Trigger asks a running Monitor to sweep now. It never blocks.
func (r *River) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Sweep removes every fully stopped streamlet and refreshes the health of
// the rest. It returns the removed tags.
func (r *River) Sweep() []Tag {
	var removed []Tag
	for _, s := range r.Streamlets() {
		tag := s.Tag()
		if !s.IsStopped() {
			r.health.Update(tag.String(), streamletHealth(s))
			continue
		}
		if !r.Erase(tag) {
			continue
		}
		removed = append(removed, tag)
		err := s.Err()
		if err != nil {
			r.mu.Lock()
			if r.sweptErr == nil {
				r.sweptErr = err
			}
			r.mu.Unlock()
		}
		r.messages.Add(message.InfoStreamletRemove, "river", tag.String())
		r.logger.Info("removed stopped streamlet", "streamlet", tag.String(), "error", err)
	}
	return removed
}

// Monitor sweeps every interval, and whenever Trigger is called, until ctx
// ends. It then stops and clears the river. An interval <= 0 selects
// DefaultMonitorInterval.
func (r *River) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			r.Clear()
			r.logger.Info("river monitor finished")
			return nil
		case <-ticker.C:
		case <-r.trigger:
		}
		r.Sweep()
	}
}

// Health aggregates the health recorded by the last Sweep.
func (r *River) Health() health.Status {
	return r.health.AggregateHealth("river")
}

func streamletHealth(s *Streamlet) health.Status {
	name := s.Tag().String()
	if err := s.Err(); err != nil {
		return health.FromError(name, err)
	}
	stopped := 0
	nodes := s.Nodes()
	for _, n := range nodes {
		if n.IsStopped() {
			stopped++
		}
	}
	if stopped > 0 {
		return health.NewDegraded(name, fmt.Sprintf("%d of %d nodes stopped", stopped, len(nodes)))
	}
	return health.NewHealthy(name, fmt.Sprintf("%d nodes running", len(nodes)))
}

// Load summarizes queue depth and in-flight buffers over all nodes of the
// river at one instant.
type Load struct {
	Nodes        int
	QueueMean    float64
	QueueP90     float64
	QueueMax     float64
	InFlightMean float64
	InFlightMax  float64
}

// Load samples every node of every streamlet.
func (r *River) Load() Load {
	var queues, inFlight []float64
	for _, s := range r.Streamlets() {
		for _, n := range s.Nodes() {
			queues = append(queues, float64(n.QueueLen()))
			inFlight = append(inFlight, float64(n.InFlight()))
		}
	}
	if len(queues) == 0 {
		return Load{}
	}
	sorted := slices.Clone(queues)
	slices.Sort(sorted)
	return Load{
		Nodes:        len(queues),
		QueueMean:    stat.Mean(queues, nil),
		QueueP90:     stat.Quantile(0.9, stat.Empirical, sorted, nil),
		QueueMax:     floats.Max(queues),
		InFlightMean: stat.Mean(inFlight, nil),
		InFlightMax:  floats.Max(inFlight),
	}
}
