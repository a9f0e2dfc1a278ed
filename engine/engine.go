package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/pkg/worker"
	"github.com/c360/avflow/streamlet"
)

// Options tune an Engine. Zero values select defaults.
type Options struct {
	// BufLimit is the per-node output bound of streamlets that set none.
	BufLimit int
	// MonitorInterval is how often the river is swept.
	MonitorInterval time.Duration
	// ShutdownTimeout bounds how long Run waits for nodes to exit.
	ShutdownTimeout time.Duration
	// BuildWorkers is how many streamlets Load builds at once.
	BuildWorkers int
}

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultBuildWorkers    = 4
	buildPoolName          = "engine_build"
)

// buildJob is one streamlet for the build pool. done runs exactly once.
type buildJob struct {
	def  *config.StreamletDef
	done func(*streamlet.Streamlet, error)
}

// Engine builds streamlets from graph definitions into one river and runs
// it. Streamlets may be added, linked and removed while it runs.
type Engine struct {
	deps    node.Dependencies
	river   *streamlet.River
	logger  *slog.Logger
	metrics *engineMetrics
	builds  *worker.Pool[buildJob]
	opts    Options

	mu      sync.Mutex
	running bool
}

// New creates an engine. Metrics register with deps.Metrics when set.
func New(deps node.Dependencies, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	metrics, err := newEngineMetrics(deps.Metrics)
	if err != nil {
		logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = streamlet.DefaultMonitorInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.BuildWorkers <= 0 {
		opts.BuildWorkers = defaultBuildWorkers
	}

	e := &Engine{
		deps:    deps,
		river:   streamlet.NewRiver(deps),
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
	e.builds = e.newBuildPool()
	return e
}

// newBuildPool starts the pool Load builds on. Without one, Load builds
// streamlets one after another.
func (e *Engine) newBuildPool() *worker.Pool[buildJob] {
	poolOpts := []worker.Option[buildJob]{worker.WithLogger[buildJob](e.logger)}
	if e.deps.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[buildJob](e.deps.Metrics, buildPoolName))
	}
	pool, err := worker.NewPool(e.opts.BuildWorkers, 0, e.runBuild, poolOpts...)
	if err == nil {
		err = pool.Start(context.Background())
	}
	if err != nil {
		e.logger.Warn("Building streamlets sequentially", "error", err)
		return nil
	}
	return pool
}

// Close stops the build pool. Load and AddStreamlet keep working, building
// sequentially.
func (e *Engine) Close() error {
	if e.builds == nil {
		return nil
	}
	return e.builds.Stop(e.opts.ShutdownTimeout)
}

// River returns the river the engine drives.
func (e *Engine) River() *streamlet.River { return e.river }

// Load builds every streamlet of g, several at a time, adds them in graph
// order and applies the links. On any failure everything Load built is
// stopped and removed again. A graph loaded into a running engine starts
// once its links are in place.
func (e *Engine) Load(g *config.Graph) (err error) {
	defer func() {
		e.metrics.recordLoad(err)
		if err != nil {
			e.deps.Messages.Add(message.CodeLoadGraph, "engine", err.Error())
		}
	}()

	if g == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Load", "nil graph")
	}
	if err := g.Validate(); err != nil {
		return err
	}

	for _, def := range g.Streamlets {
		if _, ok := e.Streamlet(def.Name); ok {
			return errors.WrapInvalid(errors.ErrKeyExists, "Engine", "Load", def.Name)
		}
	}

	built, err := e.buildAll(g.Streamlets)
	if err != nil {
		return err
	}
	rollback := func() {
		for _, s := range built {
			e.river.Erase(s.Tag())
			s.Stop()
			s.Clear()
		}
	}

	for _, s := range built {
		if err := e.add(s); err != nil {
			rollback()
			return errors.Wrap(err, "Engine", "Load", "add streamlet "+s.Tag().Name)
		}
	}
	for i, l := range g.Links {
		if err := e.Link(l); err != nil {
			rollback()
			return errors.Wrap(err, "Engine", "Load", fmt.Sprintf("link %d", i))
		}
	}
	if e.isRunning() {
		for _, s := range built {
			if err := s.Start(); err != nil {
				e.logger.Error("start loaded streamlet", "streamlet", s.Tag().String(), "error", err)
			}
		}
	}

	e.logger.Info("graph loaded", "streamlets", len(g.Streamlets), "links", len(g.Links))
	return nil
}

// Build constructs the streamlet def describes without adding it.
func (e *Engine) Build(def *config.StreamletDef) (s *streamlet.Streamlet, err error) {
	start := time.Now()
	kindLabel := def.Kind
	defer func() {
		e.metrics.recordBuild(kindLabel, time.Since(start).Seconds(), err)
		if err != nil {
			e.deps.Messages.Add(message.CodeBuildStreamlet, "engine", err.Error())
		}
	}()

	if err := def.Validate(); err != nil {
		return nil, err
	}
	tag, err := def.Tag()
	if err != nil {
		return nil, err
	}
	kindLabel = tag.Kind.String()

	builder, err := streamlet.BuilderFor(tag.Kind, e.deps)
	if err != nil {
		return nil, err
	}
	nodeOpts, err := def.NodeOptions()
	if err != nil {
		return nil, err
	}
	slOpts, err := def.StreamletOptions(e.opts.BufLimit)
	if err != nil {
		return nil, err
	}
	return builder.Build(nodeOpts, tag, slOpts)
}

// buildAll builds every definition on the build pool and returns the
// streamlets in definition order. On failure nothing built is kept and the
// error of the first failing definition is returned.
func (e *Engine) buildAll(defs []config.StreamletDef) ([]*streamlet.Streamlet, error) {
	built := make([]*streamlet.Streamlet, len(defs))
	errs := make([]error, len(defs))

	var wg sync.WaitGroup
	for i := range defs {
		wg.Add(1)
		job := buildJob{
			def: &defs[i],
			done: func(s *streamlet.Streamlet, err error) {
				built[i], errs[i] = s, err
				wg.Done()
			},
		}
		if e.builds == nil || e.builds.Submit(job) != nil {
			_ = e.runBuild(context.Background(), job)
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		for _, s := range built {
			if s != nil {
				s.Stop()
				s.Clear()
			}
		}
		return nil, errors.Wrap(err, "Engine", "Load", "build streamlet "+defs[i].Name)
	}
	return built, nil
}

func (e *Engine) runBuild(_ context.Context, job buildJob) (err error) {
	var s *streamlet.Streamlet
	defer func() {
		if r := recover(); r != nil {
			name := ""
			if job.def != nil {
				name = job.def.Name
			}
			e.logger.Error("streamlet builder panicked", "streamlet", name, "panic", r)
			s, err = nil, errors.WrapFatal(fmt.Errorf("%w: %v", worker.ErrWorkPanicked, r),
				"Engine", "Build", name)
		}
		job.done(s, err)
	}()
	s, err = e.Build(job.def)
	return err
}

// AddStreamlet builds def and adds it to the river. Names are unique across
// kinds. While the engine runs the new streamlet is started at once, so its
// links should be made before anything upstream feeds it.
func (e *Engine) AddStreamlet(def *config.StreamletDef) (*streamlet.Streamlet, error) {
	if def == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "AddStreamlet", "nil definition")
	}
	if _, ok := e.Streamlet(def.Name); ok {
		return nil, errors.WrapInvalid(errors.ErrKeyExists, "Engine", "AddStreamlet", def.Name)
	}

	s, err := e.Build(def)
	if err != nil {
		return nil, err
	}
	if err := e.add(s); err != nil {
		s.Stop()
		s.Clear()
		return nil, err
	}
	if e.isRunning() {
		if err := s.Start(); err != nil {
			e.logger.Error("start added streamlet", "streamlet", s.Tag().String(), "error", err)
			return s, err
		}
	}
	return s, nil
}

func (e *Engine) add(s *streamlet.Streamlet) error {
	if err := e.river.Add(s); err != nil {
		return err
	}
	e.deps.Messages.Add(message.InfoStreamletAdd, "engine", s.Tag().String())
	e.logger.Info("streamlet added", "streamlet", s.Tag().String(), "nodes", len(s.Nodes()))
	return nil
}

// RemoveStreamlet stops the streamlet called name. The monitor sweeps it out
// once its nodes have exited.
func (e *Engine) RemoveStreamlet(name string) error {
	s, ok := e.Streamlet(name)
	if !ok {
		return errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "RemoveStreamlet", name)
	}
	s.Stop()
	e.river.Trigger()
	e.logger.Info("streamlet stopping", "streamlet", s.Tag().String())
	return nil
}

// Streamlet finds a streamlet by name.
func (e *Engine) Streamlet(name string) (*streamlet.Streamlet, bool) {
	for _, s := range e.river.Streamlets() {
		if s.Tag().Name == name {
			return s, true
		}
	}
	return nil, false
}

// Pause pauses every node of the streamlet called name.
func (e *Engine) Pause(name string) error {
	s, ok := e.Streamlet(name)
	if !ok {
		return errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Pause", name)
	}
	s.Pause()
	return nil
}

// Resume resumes every node of the streamlet called name.
func (e *Engine) Resume(name string) error {
	s, ok := e.Streamlet(name)
	if !ok {
		return errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Resume", name)
	}
	s.Resume()
	return nil
}

// Node finds a node by streamlet name and node tag.
func (e *Engine) Node(ep config.Endpoint) (*node.Node, error) {
	s, ok := e.Streamlet(ep.Streamlet)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Node", "streamlet "+ep.Streamlet)
	}
	n, ok := s.Node(ep.Node)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Node", "node "+ep.String())
	}
	return n, nil
}

// Link applies one link between streamlets already in the river.
func (e *Engine) Link(l config.Link) error {
	linkType, err := e.link(l, false)
	e.metrics.recordLink(linkType, err)
	return err
}

// Unlink undoes a node link. Streamlet links cannot be undone one by one;
// remove the streamlet instead.
func (e *Engine) Unlink(l config.Link) error {
	if !l.IsNodeLink() {
		err := errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "Unlink", "streamlet links cannot be undone")
		e.metrics.recordLink("streamlet", err)
		return err
	}
	linkType, err := e.link(l, true)
	e.metrics.recordLink(linkType, err)
	return err
}

func (e *Engine) link(l config.Link, undo bool) (string, error) {
	from, to := l.Ends()
	if !l.IsNodeLink() {
		media, ok := config.ParseMedia(l.Media)
		if !ok {
			return "streamlet", errors.WrapInvalid(errors.ErrValueInvalid, "Engine", "Link", "media "+l.Media)
		}
		src, ok := e.Streamlet(from.Streamlet)
		if !ok {
			return "streamlet", errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Link", "streamlet "+from.Streamlet)
		}
		dst, ok := e.Streamlet(to.Streamlet)
		if !ok {
			return "streamlet", errors.WrapInvalid(errors.ErrNoSuchKey, "Engine", "Link", "streamlet "+to.Streamlet)
		}
		switch media {
		case config.MediaVideo:
			return "streamlet", streamlet.ConnectVideo(src, dst)
		case config.MediaAudio:
			return "streamlet", streamlet.ConnectAudio(src, dst)
		default:
			return "streamlet", streamlet.Connect(src, dst)
		}
	}

	linkType := "node"
	if l.Subscribe {
		linkType = "subscribe"
	}
	src, err := e.Node(from)
	if err != nil {
		return linkType, err
	}
	dst, err := e.Node(to)
	if err != nil {
		return linkType, err
	}
	switch {
	case l.Subscribe && undo:
		return linkType, node.Unsubscribe(src, dst)
	case l.Subscribe:
		return linkType, node.Subscribe(src, dst)
	case undo:
		return linkType, node.Disconnect(src, dst, l.StreamIndex())
	default:
		return linkType, node.Connect(src, dst, l.StreamIndex())
	}
}

// SendEvent hands a dynamic event to one node, e.g. a layout change to a
// video mixer.
func (e *Engine) SendEvent(to config.Endpoint, ev event.Event) (err error) {
	if ev == nil {
		return errors.WrapInvalid(errors.ErrValueInvalid, "Engine", "SendEvent", "nil event")
	}
	defer func() { e.metrics.recordEvent(ev.Kind().String(), err) }()

	n, err := e.Node(to)
	if err != nil {
		return err
	}
	if !n.SupportsEvent(ev.Kind()) {
		return errors.WrapInvalid(errors.ErrEventNotSupported, "Engine", "SendEvent",
			fmt.Sprintf("%s on %s", ev.Kind(), to))
	}
	return n.ProcessDynamicEvent(ev)
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the river and sweeps it until ctx ends or every streamlet has
// finished. It then stops what is left, waits up to ShutdownTimeout for the
// nodes to exit and returns the first streamlet failure.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Run", "engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan error, 1)
	go func() { monitorDone <- e.river.Monitor(monitorCtx, e.opts.MonitorInterval) }()

	startErr := e.river.Start()
	if startErr != nil {
		e.logger.Error("river start failed", "error", startErr)
	} else {
		e.logger.Info("river started", "streamlets", e.river.Len())
		e.wait(ctx)
	}

	e.river.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()
	if err := e.river.Wait(waitCtx); err != nil {
		e.logger.Warn("nodes still running at shutdown", "error", err)
	}
	runErr := e.river.Err()

	stopMonitor()
	<-monitorDone
	e.logger.Info("river finished", "error", runErr)

	if startErr != nil {
		return startErr
	}
	return runErr
}

// wait blocks until ctx ends or the river has swept out every streamlet.
func (e *Engine) wait(ctx context.Context) {
	ticker := time.NewTicker(e.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("shutdown requested")
			return
		case <-ticker.C:
			if e.river.Len() == 0 {
				e.logger.Info("all streamlets finished")
				return
			}
		}
	}
}
