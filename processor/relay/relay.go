// Package relay provides the data relay implementation: it forwards every
// input buffer unchanged, which is how a streamlet exposes an inner node's
// output or fans one producer out to several consumers.
package relay

import (
	"strconv"
	"sync/atomic"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/option"
)

// Relay forwards input as output.
type Relay struct {
	impl.Base

	relayed atomic.Uint64
	flushes atomic.Uint64
}

// New creates a relay.
func New(env impl.Env) (impl.Implementation, error) {
	r := &Relay{}
	r.Init(env)
	return r, nil
}

// OnConstruct marks the relay initialized; it negotiates nothing.
func (r *Relay) OnConstruct() error {
	r.SetInitialized(true)
	r.SetDataRelay(true)
	return nil
}

func (r *Relay) OnDestruct() error { return nil }

// OnProcess clones the input into the output list. A flush from the last
// peer ends the relay.
func (r *Relay) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectAnyOne()
	if ctx.In == nil {
		return errors.ErrTryAgain
	}
	if ctx.InputFlush {
		r.flushes.Add(1)
		if len(ctx.Froms) <= 1 {
			return errors.ErrEndOfStream
		}
		return nil
	}

	out := ctx.In.Clone()
	ctx.CurStreamIndex = out.Address().Stream
	ctx.Emit(out)
	r.relayed.Add(1)
	return nil
}

func (r *Relay) OnDynamicallyInitialize(*impl.Context) error { return nil }

func (r *Relay) OnProcessTravelDynamic(*impl.Context) error { return nil }

// Statistics implements impl.Statistician.
func (r *Relay) Statistics() map[string]string {
	return map[string]string{
		"relayed": strconv.FormatUint(r.relayed.Load(), 10),
		"flushes": strconv.FormatUint(r.flushes.Load(), 10),
	}
}

// Register registers the relay under the DataRelay category.
func Register(registry *impl.Registry) error {
	return registry.Register(impl.RegistrationConfig{
		Category: option.DataRelay,
		Variants: []string{option.DefaultImplType, "dataRelay"},
		Properties: impl.Properties{
			Description: "Forwards every input buffer unchanged",
			Inputs:      []option.DataType{option.DataTypeUndefined},
			Outputs:     []option.DataType{option.DataTypeUndefined},
		},
		Factory: New,
	})
}
