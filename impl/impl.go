// Package impl defines the contract a processing implementation fulfils, the
// default pre- and post-processing every implementation gets (stream format
// negotiation, the pre-initialization cache, per-edge timestamp rescaling),
// and the Registry that constructs implementations by category and variant.
//
// An implementation embeds Base and provides the five required hooks:
//
//	type Scaler struct {
//		impl.Base
//	}
//
//	func (s *Scaler) OnConstruct() error                          { ... }
//	func (s *Scaler) OnDestruct() error                           { ... }
//	func (s *Scaler) OnProcess(ctx *impl.Context) error           { ... }
//	func (s *Scaler) OnDynamicallyInitialize(ctx *impl.Context) error { ... }
//	func (s *Scaler) OnProcessTravelDynamic(ctx *impl.Context) error  { ... }
//
// The node drives it through Process, which runs pre-process, OnProcess and
// post-process in that order.
package impl

import (
	"log/slog"

	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/pkg/timestamp"
)

// Implementation is the strategy a node executes.
type Implementation interface {
	// Core returns the embedded Base.
	Core() *Base

	// OnConstruct acquires what the implementation can set up from options
	// alone. Most work is deferred to OnDynamicallyInitialize.
	OnConstruct() error
	// OnDestruct releases everything OnConstruct and OnDynamicallyInitialize
	// acquired. It must be safe to call more than once.
	OnDestruct() error
	// OnProcess handles one step. ctx.In is nil when the node runs without
	// input.
	OnProcess(ctx *Context) error
	// OnDynamicallyInitialize runs once descriptors from every connected
	// peer are known. It must set the output descriptors.
	OnDynamicallyInitialize(ctx *Context) error
	// OnProcessTravelDynamic runs when a new peer joins after
	// initialization.
	OnProcessTravelDynamic(ctx *Context) error
}

// PreProcessor replaces DefaultPreProcess.
type PreProcessor interface {
	OnPreProcess(ctx *Context) error
}

// PostProcessor replaces DefaultPostProcess.
type PostProcessor interface {
	OnPostProcess(ctx *Context) error
}

// NonMonotonicDTSHandler overrides the default handling of a packet whose
// rescaled DTS went backwards. The default logs and continues.
type NonMonotonicDTSHandler interface {
	OnNonMonotonicDTS(ctx *Context, m *timestamp.Mapper, pkt *media.Packet) error
}

// NoDTSHandler overrides the default handling of a packet without DTS. The
// default logs and continues.
type NoDTSHandler interface {
	OnNoDTS(ctx *Context, m *timestamp.Mapper, pkt *media.Packet) error
}

// Statistician reports implementation specific counters when the node ends.
type Statistician interface {
	Statistics() map[string]string
}

// Env is what a constructor receives.
type Env struct {
	Options  *option.Options
	Logger   *slog.Logger
	Messages *message.Collector
	Metrics  *metric.MetricsRegistry
}
