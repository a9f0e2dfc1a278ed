package impl

import (
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/transmit"
)

// Expectation is what a node accepts from its data edge next.
type Expectation = transmit.Expectation[media.Address]

// ExpectNothing lets the node run without waiting for input.
func ExpectNothing() Expectation { return transmit.ExpectNothing[media.Address]() }

// ExpectAnyOne waits for the oldest queued input.
func ExpectAnyOne() Expectation { return transmit.ExpectAnyOne[media.Address]() }

// ExpectSpecific waits for input from one peer.
func ExpectSpecific(from media.Address) Expectation { return transmit.ExpectSpecific(from) }

// ExpectExcept waits for input from any peer but the given ones.
func ExpectExcept(from ...media.Address) Expectation { return transmit.ExpectExcept(from...) }

// Context is the state of one processing step.
type Context struct {
	// Froms lists the peers connected when the step began.
	Froms []media.Address
	// In is the buffer as received. The edge owns it.
	In *media.Buffer
	// InRef is a clone of In with timestamps rescaled into this node's time
	// base. It is nil until the node is initialized, and for data relays.
	InRef *media.Buffer
	// InputFlush is set when In ends its producer's stream.
	InputFlush bool

	// Outputs are emitted after the step. The node owns the single
	// reference of each.
	Outputs []*media.Buffer
	// Events are published to subscribers after the step.
	Events []event.Event
	// OutputTimes is how many times each output is delivered. Zero
	// suppresses delivery.
	OutputTimes int
	// CurStreamIndex is the output stream an implementation last wrote.
	CurStreamIndex int
	// Expect is the input the node waits for before the next step. It starts
	// as the previous step's value.
	Expect Expectation

	replay []replayItem
	cached bool
}

type replayItem struct {
	in  *media.Buffer
	ref *media.Buffer
}

// NewContext returns a context for one step.
func NewContext(froms []media.Address, in *media.Buffer, expect Expectation) *Context {
	return &Context{
		Froms:       froms,
		In:          in,
		OutputTimes: 1,
		Expect:      expect,
	}
}

// Input returns InRef when present, else In.
func (c *Context) Input() *media.Buffer {
	if c.InRef != nil {
		return c.InRef
	}
	return c.In
}

// Emit queues b for delivery. The node stamps its own identity onto b's
// address and keeps only the stream index.
func (c *Context) Emit(b *media.Buffer) {
	c.Outputs = append(c.Outputs, b)
}

// Publish queues e for subscribers.
func (c *Context) Publish(e event.Event) {
	c.Events = append(c.Events, e)
}

// Cached reports whether In was parked in the pre-initialization cache
// instead of being processed.
func (c *Context) Cached() bool {
	return c.cached
}
