package impl

import (
	"fmt"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/pkg/timestamp"
)

// Process runs one step: pre-process, OnProcess for any inputs replayed from
// the pre-initialization cache, OnProcess for ctx.In, then post-process.
// Post-process runs even when OnProcess fails; the first error is returned.
func Process(im Implementation, ctx *Context) error {
	var err error
	if pre, ok := im.(PreProcessor); ok {
		err = pre.OnPreProcess(ctx)
	} else {
		err = DefaultPreProcess(im, ctx)
	}
	if err != nil {
		return err
	}
	if ctx.cached {
		return nil
	}

	if err := replay(im, ctx); err != nil {
		return err
	}

	procErr := im.OnProcess(ctx)

	var postErr error
	if post, ok := im.(PostProcessor); ok {
		postErr = post.OnPostProcess(ctx)
	} else {
		postErr = DefaultPostProcess(im, ctx)
	}

	if procErr != nil {
		return procErr
	}
	return postErr
}

// replay runs OnProcess for each buffer released from the cache, oldest first.
func replay(im Implementation, ctx *Context) error {
	b := im.Core()
	in, ref := ctx.In, ctx.InRef
	defer func() { ctx.In, ctx.InRef = in, ref }()

	for len(ctx.replay) > 0 {
		item := ctx.replay[0]
		ctx.replay = ctx.replay[1:]

		ctx.In, ctx.InRef = item.in, item.ref
		err := im.OnProcess(ctx)
		item.in.Release()

		switch {
		case err == nil, errors.Is(err, errors.ErrTryAgain):
		case errors.IsEOF(err), errors.IsFatal(err):
			for _, rest := range ctx.replay {
				rest.in.Release()
			}
			ctx.replay = nil
			return err
		default:
			b.Logger.Warn("replayed input failed", "buffer", item.in.String(), "error", err)
		}
	}
	return nil
}

// DefaultPreProcess records peer descriptors and prepares ctx.InRef.
//
// Before initialization, input is parked until every peer in ctx.Froms has
// announced a descriptor; then OnDynamicallyInitialize runs once and the
// parked input is queued for replay ahead of ctx.In. A flush from a peer
// before initialization drops that peer's parked input, and ends the stream
// if it was the only peer.
//
// After initialization, ctx.In is cloned into ctx.InRef and its timestamps
// are rescaled through the peer's mapper.
func DefaultPreProcess(im Implementation, ctx *Context) error {
	b := im.Core()
	in := ctx.In
	if in == nil {
		return nil
	}
	from := in.Address()

	newPeer := false
	if in.IsFlush() {
		ctx.InputFlush = true
	} else if !b.InputDescriptors.Has(from) {
		b.InputDescriptors.Set(from, in.Descriptor)
		newPeer = true
	}

	if b.Initialized() {
		if in.IsFlush() || b.DataRelay() {
			return nil
		}
		if newPeer {
			if err := im.OnProcessTravelDynamic(ctx); err != nil {
				return err
			}
		}
		return rescaleInput(im, ctx)
	}

	if in.IsFlush() {
		n := b.dropCached(from)
		b.Infof(message.CodeClearCache, "not initialized and got flush, drop %d cached from %s", n, from)
		if len(ctx.Froms) <= 1 {
			return errors.ErrEndOfStream
		}
		return nil
	}

	if !b.descriptorsComplete(ctx.Froms) {
		b.cache(in)
		ctx.cached = true
		return nil
	}

	if err := im.OnDynamicallyInitialize(ctx); err != nil {
		b.Errorf(message.CodeImplDynamicInit, "%v", err)
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrDynamicInit, err),
			"impl", "PreProcess", "dynamic initialization")
	}
	b.SetInitialized(true)

	cached := b.preInit
	b.preInit = nil
	for _, buf := range cached {
		sub := NewContext(ctx.Froms, buf, ctx.Expect)
		if err := rescaleInput(im, sub); err != nil {
			b.Logger.Warn("rescale cached input", "buffer", buf.String(), "error", err)
		}
		ctx.replay = append(ctx.replay, replayItem{in: buf, ref: sub.InRef})
	}

	return DefaultPreProcess(im, ctx)
}

// DefaultPostProcess forgets a flushed peer's descriptor and mapper.
func DefaultPostProcess(im Implementation, ctx *Context) error {
	b := im.Core()
	if ctx.InputFlush && ctx.In != nil {
		from := ctx.In.Address()
		b.InputDescriptors.Delete(from)
		b.Mappers.Delete(from)
	}
	return nil
}

func rescaleInput(im Implementation, ctx *Context) error {
	b := im.Core()
	from := ctx.In.Address()

	m, ok := b.Mappers.Get(from)
	if !ok {
		out, single := b.singleOutput()
		desc, _ := b.InputDescriptors.Get(from)
		if single && desc != nil {
			m = newMapper(desc, out)
			b.Mappers.Set(from, m)
			ok = true
		}
	}

	ref := ctx.In.Clone()
	ctx.InRef = ref
	if !ok {
		return nil
	}

	if ref.Packet != nil {
		switch err := m.RescalePacket(&ref.Packet.Times); {
		case errors.Is(err, errors.ErrNoDTS):
			if h, ok := im.(NoDTSHandler); ok {
				return h.OnNoDTS(ctx, m, ref.Packet)
			}
			b.warnf("no valid dts, last %d, from %s", m.LastDTS(), from)
		case errors.Is(err, errors.ErrDTSNotMonotonic):
			if h, ok := im.(NonMonotonicDTSHandler); ok {
				return h.OnNonMonotonicDTS(ctx, m, ref.Packet)
			}
			b.warnf("non monotonic dts %d after %d, from %s", ref.Packet.DTS, m.LastDTS(), from)
		}
	}
	if ref.Frame != nil {
		ref.Frame.PTS = m.RescaleFrame(ref.Frame.PTS)
		if ref.Frame.Duration > 0 {
			ref.Frame.Duration = m.Rescale(ref.Frame.Duration)
		}
	}
	return nil
}

// ProcessEvent dispatches a peer or dynamic event to the implementation's
// registered handler.
func ProcessEvent(im Implementation, e event.Event) error {
	b := im.Core()
	if err := b.Events.Dispatch(e); err != nil {
		b.Errorf(message.CodeOf(err), "process event: %v", err)
		return err
	}
	return nil
}

// Reinitialize releases the implementation's resources and negotiated state,
// then constructs it again. The next input goes through negotiation anew.
func Reinitialize(im Implementation) error {
	b := im.Core()
	if err := im.OnDestruct(); err != nil {
		b.Logger.Warn("destruct before reinitialize", "error", err)
	}
	b.Reset()
	b.Events = event.NewDispatcher()
	if err := im.OnConstruct(); err != nil {
		_ = im.OnDestruct()
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrCreateImplementation, err),
			"impl", "Reinitialize", "construct")
	}
	return nil
}

// Destroy releases the implementation's resources and cached input.
func Destroy(im Implementation) error {
	b := im.Core()
	err := im.OnDestruct()
	b.Reset()
	b.Infof(message.InfoImplDestroyed, "%s", b.ImplType)
	return err
}

func newMapper(in, out *media.Descriptor) *timestamp.Mapper {
	return timestamp.NewMapper(in.TimeBase, out.TimeBase)
}
