// Package node runs one implementation on its own goroutine. A Node owns a
// data edge, a peer event edge and a backpressure limiter, and drives its
// implementation through a loop of wait, process and publish steps.
//
// Nodes are wired together with Connect and Subscribe and are controlled with
// Start, Pause, Resume and Stop, which are safe to call from any goroutine.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/transmit"
)

// State is the lifecycle state of a node.
type State int32

const (
	StateCreate State = iota
	StateStart
	StatePause
	StateStop
)

func (s State) String() string {
	switch s {
	case StateCreate:
		return "create"
	case StateStart:
		return "start"
	case StatePause:
		return "pause"
	case StateStop:
		return "stop"
	default:
		return "unknown"
	}
}

// DataEdge carries media buffers between nodes.
type DataEdge = transmit.Transmitor[*media.Buffer, media.Address]

// EventEdge carries peer events between nodes.
type EventEdge = transmit.Transmitor[event.Event, media.Address]

// Dependencies are the process-wide collaborators a node is built with.
type Dependencies struct {
	Registry *impl.Registry
	Messages *message.Collector
	Metrics  *metric.MetricsRegistry
	Logger   *slog.Logger
}

var nodeSeq atomic.Uint64

// Node is one processing unit of a graph.
type Node struct {
	id       uuid.UUID
	tag      string
	category option.Category
	options  *option.Options
	logger   *slog.Logger
	messages *message.Collector
	metrics  *metric.Metrics

	im      impl.Implementation
	data    *DataEdge
	events  *EventEdge
	limiter *media.Limiter
	group   atomic.Uint64

	quitIfNoInputs bool
	// expect is only touched by the loop goroutine.
	expect impl.Expectation

	runMu   sync.Mutex
	fire    *sync.Cond
	started bool
	alive   bool
	onFire  bool
	cancel  context.CancelFunc
	state   atomic.Int32
	done    chan struct{}

	errMu   sync.Mutex
	lastErr error
	failure error
}

// New builds a node around the implementation opts selects. The node is
// returned even when the implementation cannot be created; the error is
// returned alongside, kept as the node's failure, and Start refuses to run.
func New(opts *option.Options, deps Dependencies) (*Node, error) {
	if opts == nil {
		return nil, errors.WrapInvalid(errors.ErrEmptyOption, "node", "New", "nil options")
	}
	opts = opts.Clone()
	category, _ := opts.Category()
	tag := opts.GetDefault(option.KeyLogtag, "")
	if tag == "" {
		tag = fmt.Sprintf("%s-%s-%d", category, opts.ImplType(), nodeSeq.Add(1))
		_ = opts.Set(option.KeyLogtag, tag)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		id:             uuid.New(),
		tag:            tag,
		category:       category,
		options:        opts,
		logger:         logger.With("node", tag),
		messages:       deps.Messages,
		metrics:        deps.Metrics.CoreMetrics(),
		limiter:        media.NewLimiter(0),
		quitIfNoInputs: opts.BoolOr(option.KeyQuitIfNoInputs, true),
		expect:         impl.ExpectNothing(),
		done:           make(chan struct{}),
	}
	n.fire = sync.NewCond(&n.runMu)
	self := n.Address()
	n.data = transmit.New[*media.Buffer, media.Address](tag+"[data]", self)
	n.events = transmit.New[event.Event, media.Address](tag+"[event]", self)
	n.setState(StateCreate)

	if deps.Registry == nil {
		err := errors.WrapFatal(errors.ErrEmptyImplementation, "node", "New", "no registry")
		n.setFailure(err)
		return n, err
	}
	im, err := deps.Registry.Create(impl.Env{
		Options:  opts,
		Logger:   logger,
		Messages: deps.Messages,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		n.setFailure(err)
		return n, err
	}
	n.im = im
	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() uuid.UUID { return n.id }

// Tag returns the node's log tag.
func (n *Node) Tag() string { return n.tag }

// Category returns the implementation category the node was built for.
func (n *Node) Category() option.Category { return n.category }

// Options returns the node's own copy of its options.
func (n *Node) Options() *option.Options { return n.options }

// Implementation returns the implementation, or nil if it could not be
// created.
func (n *Node) Implementation() impl.Implementation { return n.im }

// Address returns the address of the node's default output stream.
func (n *Node) Address() media.Address {
	return media.Address{
		Producer: n.id,
		Group:    media.GroupID(n.group.Load()),
		Stream:   media.DefaultStream,
		Tag:      n.tag,
	}
}

// GroupID returns the id of the streamlet the node belongs to.
func (n *Node) GroupID() media.GroupID { return media.GroupID(n.group.Load()) }

// SetGroupID moves the node into a streamlet. Later outputs carry the new id.
func (n *Node) SetGroupID(id media.GroupID) { n.group.Store(uint64(id)) }

// SetMaxBuffers bounds how many emitted buffers may be in flight downstream.
// A value of zero or less removes the bound.
func (n *Node) SetMaxBuffers(max int) { n.limiter.SetMax(max) }

// InFlight returns how many emitted buffers are still held downstream.
func (n *Node) InFlight() int { return n.limiter.InFlight() }

// QueueLen returns how many items wait in the input queue.
func (n *Node) QueueLen() int { return n.data.Len() }

// State returns the lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

// IsStopped reports whether the loop has exited.
func (n *Node) IsStopped() bool { return n.State() == StateStop }

// Done is closed once the node has stopped.
func (n *Node) Done() <-chan struct{} { return n.done }

// Wait blocks until the node stops or ctx ends.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "node", "Wait", n.tag)
	}
}

// Start spawns the loop goroutine. It fails if the implementation could not
// be created, or if the node was already started or stopped.
func (n *Node) Start() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if n.im == nil {
		return errors.WrapFatal(errors.ErrEmptyImplementation, "node", "Start", n.tag)
	}
	if n.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "node", "Start", n.tag)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.started, n.alive, n.onFire = true, true, true
	n.setState(StateStart)
	go n.run(ctx)
	return nil
}

// Pause blocks the loop before its next processing step. Input keeps queuing.
func (n *Node) Pause() {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if !n.alive {
		return
	}
	n.onFire = false
	n.setState(StatePause)
}

// Resume wakes a paused loop.
func (n *Node) Resume() {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if !n.alive {
		return
	}
	n.onFire = true
	n.setState(StateStart)
	n.fire.Broadcast()
}

// Stop asks the loop to exit after its current step. It does not wait; use
// Done or Wait. A node that never started is shut down right away.
func (n *Node) Stop() {
	n.runMu.Lock()
	wasStarted := n.started
	n.started = true
	n.alive = false
	n.fire.Broadcast()
	cancel := n.cancel
	n.runMu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	if !wasStarted {
		n.shutdown("stopped before start")
	}
}

// Reset is a lifecycle hook with nothing to do.
func (n *Node) Reset() {}

// Reopen destroys the implementation and constructs it again from the same
// options, so the next input renegotiates stream formats.
func (n *Node) Reopen() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.im == nil {
		return errors.WrapFatal(errors.ErrEmptyImplementation, "node", "Reopen", n.tag)
	}
	if err := impl.Reinitialize(n.im); err != nil {
		n.setFailure(err)
		return err
	}
	return nil
}

// ProcessDynamicEvent hands e to the implementation, serialized with the
// loop's processing steps.
func (n *Node) ProcessDynamicEvent(e event.Event) error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.im == nil {
		return errors.WrapFatal(errors.ErrEmptyImplementation, "node", "ProcessDynamicEvent", n.tag)
	}
	if err := impl.ProcessEvent(n.im, e); err != nil {
		n.setErr(err)
		return err
	}
	return nil
}

// SupportsEvent reports whether the implementation handles kind.
func (n *Node) SupportsEvent(kind event.Kind) bool {
	if n.im == nil {
		return false
	}
	return n.im.Core().Events.Supports(kind)
}

// OutputMedia returns the media kind of each output stream index known so
// far.
func (n *Node) OutputMedia() map[int]media.Kind {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.im == nil {
		return nil
	}
	return maps.Clone(n.im.Core().OutputMedia)
}

// Senders returns the addresses connected to the node's data edge.
func (n *Node) Senders() []media.Address { return n.data.Senders() }

// Err returns the last error the node recorded, recovered or not.
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.lastErr
}

// Failure returns the error that prevented the node from running or ended
// it, or nil.
func (n *Node) Failure() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.failure
}

// HasErr reports whether the node has failed.
func (n *Node) HasErr() bool { return n.Failure() != nil }

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.tag, n.State())
}

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
	n.metrics.RecordNodeState(n.tag, n.category.String(), int(s))
}

func (n *Node) setErr(err error) {
	n.errMu.Lock()
	n.lastErr = err
	n.errMu.Unlock()
}

func (n *Node) setFailure(err error) {
	n.errMu.Lock()
	n.lastErr = err
	if n.failure == nil {
		n.failure = err
	}
	n.errMu.Unlock()
}

func (n *Node) info(code message.Code, format string, args ...any) {
	msg := n.messages.Add(code, n.tag, fmt.Sprintf(format, args...))
	n.logger.Info(msg.Detail, "code", int32(code))
}
