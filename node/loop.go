package node

import (
	"context"
	"time"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
)

// waitTimeout bounds each wait for input so peer events and Stop are seen
// promptly.
const waitTimeout = 5 * time.Millisecond

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetry
	outcomeEOF
	outcomeFatal
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	case outcomeEOF:
		return "eof"
	case outcomeFatal:
		return "fatal"
	default:
		return "error"
	}
}

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, errors.ErrTryAgain):
		return outcomeRetry
	case errors.IsEOF(err):
		return outcomeEOF
	case errors.IsFatal(err), errors.Is(err, errors.ErrDynamicInit):
		return outcomeFatal
	default:
		return outcomeError
	}
}

func (n *Node) run(ctx context.Context) {
	n.info(message.InfoRunThread, "%s started", n.im.Core().ImplType)
	reason := "stopped"
	for {
		more, why := n.step(ctx)
		if !more {
			reason = why
			break
		}
	}
	n.shutdown(reason)
}

// step runs one iteration. It returns false with a reason once the loop
// should exit.
func (n *Node) step(ctx context.Context) (bool, string) {
	if !n.isAlive() {
		return false, "stopped"
	}

	if e, ok := n.events.Retrieve(); ok {
		n.processPeerEvent(e)
	}

	in, err := n.data.Expect(ctx, n.expect, waitTimeout)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrTryAgain):
		return true, ""
	case errors.Is(err, errors.ErrNoSenders):
		if n.quitIfNoInputs {
			return false, "no senders left"
		}
		return true, ""
	default:
		return false, "stopped"
	}
	if in != nil {
		n.metrics.RecordBufferReceived(n.tag)
	}

	n.runMu.Lock()
	for n.alive && !n.onFire {
		n.fire.Wait()
	}
	if !n.alive {
		n.runMu.Unlock()
		return false, "stopped"
	}
	pctx := impl.NewContext(n.data.Senders(), in, n.expect)
	began := time.Now()
	err = impl.Process(n.im, pctx)
	n.runMu.Unlock()

	result := classify(err)
	n.metrics.RecordProcess(n.tag, result.String(), time.Since(began))

	switch result {
	case outcomeFatal:
		n.setFailure(err)
		n.messages.AddError(n.tag, err)
		n.logger.Error("process failed, node ends", "error", err)
		releaseAll(pctx.Outputs)
		return false, "fatal: " + err.Error()
	case outcomeError:
		n.setErr(err)
		n.messages.AddError(n.tag, err)
		n.logger.Warn("process failed", "error", err)
	}

	n.post(ctx, pctx)

	if result == outcomeEOF {
		return false, "end of stream"
	}
	return true, ""
}

func (n *Node) processPeerEvent(e event.Event) {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if !n.im.Core().Events.Supports(e.Kind()) {
		n.logger.Debug("peer event not handled", "kind", e.Kind().String(), "from", e.Address().String())
		return
	}
	if err := impl.ProcessEvent(n.im, e); err != nil {
		n.setErr(err)
		n.logger.Warn("process peer event", "kind", e.Kind().String(), "error", err)
	}
}

// post hands the input back to the edge, publishes events and delivers
// outputs. Each output then takes a limiter slot, which may block until
// downstream catches up.
func (n *Node) post(ctx context.Context, pctx *impl.Context) {
	if in := pctx.In; in != nil {
		if pctx.InputFlush {
			n.data.DeleteSender(in.Address())
			n.info(message.InfoDeleteReceiver, "one input ended %s", in)
		}
		n.data.Farewell(in)
	}
	n.expect = pctx.Expect

	self := n.Address()
	for _, e := range pctx.Events {
		e.SetAddress(self)
		n.events.Broadcast(e)
	}
	n.metrics.RecordEventsPublished(n.tag, len(pctx.Events))

	delivered := 0
	for _, b := range pctx.Outputs {
		b.SetAddress(self.WithStream(b.Address().Stream))
		for range pctx.OutputTimes {
			delivered += n.data.Delivery(b)
		}
		if err := n.limiter.Limit(ctx, b); err != nil {
			n.logger.Debug("limit interrupted", "error", err)
		}
		b.Release()
	}
	n.metrics.RecordBuffersDelivered(n.tag, delivered)
	n.metrics.RecordLimiterInFlight(n.tag, n.limiter.InFlight())
	n.metrics.RecordQueueDepth(n.tag, n.data.Len())
}

// shutdown tells downstream the node is gone, detaches both edges and
// destroys the implementation.
func (n *Node) shutdown(reason string) {
	n.runMu.Lock()
	n.alive, n.onFire = false, false
	if n.cancel != nil {
		n.cancel()
	}
	n.runMu.Unlock()

	self := n.Address()

	flush := media.NewFlush(self)
	n.data.Broadcast(flush)
	flush.Release()
	n.data.Clear()

	stop := &event.StopPublishing{}
	stop.SetAddress(self)
	n.events.Broadcast(stop)
	n.events.Clear()

	if n.im != nil {
		if st, ok := n.im.(impl.Statistician); ok {
			stats := st.Statistics()
			args := make([]any, 0, 2*len(stats))
			for k, v := range stats {
				args = append(args, k, v)
			}
			n.logger.Info("statistics", args...)
		}
		n.runMu.Lock()
		if err := impl.Destroy(n.im); err != nil {
			n.setErr(err)
			n.logger.Warn("destroy implementation", "error", err)
		}
		n.runMu.Unlock()
	}

	n.info(message.InfoEndThread, "%s, %s", reason, n.data.Stats())
	n.setState(StateStop)
	close(n.done)
}

func (n *Node) isAlive() bool {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	return n.alive
}

func releaseAll(bufs []*media.Buffer) {
	for _, b := range bufs {
		b.Release()
	}
}
