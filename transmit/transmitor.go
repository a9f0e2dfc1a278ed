// Package transmit implements the edge between nodes: a thread-safe queue
// with sender and recipient adjacency, address-based routing, and a bounded
// wait for input matching an Expectation. Data buffers and peer events each
// travel on their own Transmitor instance.
package transmit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c360/avflow/errors"
)

// Addressable is an address type. Equal may be wider than ==, for example a
// flush address matching every stream of its producer.
type Addressable[A any] interface {
	Equal(A) bool
}

// Load is an item carried on an edge.
type Load[A any] interface {
	comparable
	Address() A
}

// holder is implemented by reference counted loads. The edge holds a
// reference for as long as an item stays queued.
type holder interface {
	Hold()
	Release()
}

type flusher interface {
	IsFlush() bool
}

type link[L Load[A], A Addressable[A]] struct {
	addr A
	peer *Transmitor[L, A]
}

type counter[A Addressable[A]] struct {
	addr A
	n    uint64
}

// Transmitor is one end of a set of edges. Upstream transmitors are its
// senders; downstream transmitors are its recipients.
type Transmitor[L Load[A], A Addressable[A]] struct {
	tag  string
	self A

	mu         sync.Mutex
	notify     chan struct{}
	senders    []link[L, A]
	recipients []link[L, A]
	received   []counter[A]
	sent       []counter[A]
	loads      []L
	hadSenders bool
	closed     bool
}

// New returns an empty transmitor identified by self.
func New[L Load[A], A Addressable[A]](tag string, self A) *Transmitor[L, A] {
	return &Transmitor[L, A]{
		tag:    tag,
		self:   self,
		notify: make(chan struct{}),
	}
}

// Tag returns the log tag.
func (t *Transmitor[L, A]) Tag() string { return t.tag }

// Self returns the transmitor's own address.
func (t *Transmitor[L, A]) Self() A { return t.self }

// AddSender registers from as the upstream of addr. Registering an address
// twice is a no-op.
func (t *Transmitor[L, A]) AddSender(addr A, from *Transmitor[L, A]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.WrapInvalid(errors.ErrEdgeClosed, "Transmitor", "AddSender", t.tag)
	}
	for _, s := range t.senders {
		if s.addr.Equal(addr) {
			return nil
		}
	}
	t.senders = append(t.senders, link[L, A]{addr: addr, peer: from})
	t.hadSenders = true
	if counterIndex(t.received, addr) < 0 {
		t.received = append(t.received, counter[A]{addr: addr})
	}
	return nil
}

// AddRecipient registers to as a downstream for items addressed addr.
func (t *Transmitor[L, A]) AddRecipient(addr A, to *Transmitor[L, A]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.WrapInvalid(errors.ErrEdgeClosed, "Transmitor", "AddRecipient", t.tag)
	}
	for _, r := range t.recipients {
		if r.peer == to && r.addr.Equal(addr) {
			return nil
		}
	}
	t.recipients = append(t.recipients, link[L, A]{addr: addr, peer: to})
	if counterIndex(t.sent, to.self) < 0 {
		t.sent = append(t.sent, counter[A]{addr: to.self})
	}
	return nil
}

// DeleteSender unregisters every sender equal to addr and drops their queued
// items. It returns how many senders were removed.
func (t *Transmitor[L, A]) DeleteSender(addr A) int {
	t.mu.Lock()
	before := len(t.senders)
	t.senders = slices.DeleteFunc(t.senders, func(s link[L, A]) bool {
		return s.addr.Equal(addr)
	})
	removed := before - len(t.senders)

	var dropped []L
	t.loads = slices.DeleteFunc(t.loads, func(l L) bool {
		if l.Address().Equal(addr) {
			dropped = append(dropped, l)
			return true
		}
		return false
	})
	t.signalLocked()
	t.mu.Unlock()

	releaseAll(dropped)
	return removed
}

// DeleteRecipient unregisters every link to the transmitor to.
func (t *Transmitor[L, A]) DeleteRecipient(to *Transmitor[L, A]) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.recipients)
	t.recipients = slices.DeleteFunc(t.recipients, func(r link[L, A]) bool {
		return r.peer == to
	})
	return before - len(t.recipients)
}

// DeleteRecipientLink unregisters only the link that sends items addressed
// addr to to. Links to to for other addresses stay.
func (t *Transmitor[L, A]) DeleteRecipientLink(addr A, to *Transmitor[L, A]) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.recipients)
	t.recipients = slices.DeleteFunc(t.recipients, func(r link[L, A]) bool {
		return r.peer == to && r.addr.Equal(addr)
	})
	return before - len(t.recipients)
}

// Welcome enqueues item and wakes waiters. It returns false once the
// transmitor has been cleared.
func (t *Transmitor[L, A]) Welcome(item L) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	if h, ok := any(item).(holder); ok {
		h.Hold()
	}
	t.loads = append(t.loads, item)
	if i := counterIndex(t.received, item.Address()); i >= 0 {
		t.received[i].n++
	} else {
		t.received = append(t.received, counter[A]{addr: item.Address(), n: 1})
	}
	t.signalLocked()
	return true
}

// Delivery routes item to every recipient registered for an address equal to
// its own, and returns how many accepted it. Flush items are never routed
// here; use Broadcast.
func (t *Transmitor[L, A]) Delivery(item L) int {
	addr := item.Address()
	if f, ok := any(addr).(flusher); ok && f.IsFlush() {
		return 0
	}

	t.mu.Lock()
	var targets []*Transmitor[L, A]
	for _, r := range t.recipients {
		if r.addr.Equal(addr) {
			targets = append(targets, r.peer)
		}
	}
	t.mu.Unlock()

	return t.send(item, targets)
}

// Broadcast sends item to every recipient, once per distinct transmitor.
func (t *Transmitor[L, A]) Broadcast(item L) int {
	t.mu.Lock()
	var targets []*Transmitor[L, A]
	for _, r := range t.recipients {
		if !slices.Contains(targets, r.peer) {
			targets = append(targets, r.peer)
		}
	}
	t.mu.Unlock()

	return t.send(item, targets)
}

// send calls Welcome outside t's lock so an edge clearing itself can take
// its own lock and ours in either order.
func (t *Transmitor[L, A]) send(item L, targets []*Transmitor[L, A]) int {
	var accepted []*Transmitor[L, A]
	for _, to := range targets {
		if to.Welcome(item) {
			accepted = append(accepted, to)
		}
	}
	if len(accepted) == 0 {
		return 0
	}

	t.mu.Lock()
	for _, to := range accepted {
		if i := counterIndex(t.sent, to.self); i >= 0 {
			t.sent[i].n++
		}
	}
	t.mu.Unlock()
	return len(accepted)
}

// Farewell removes the first queued occurrence of item and releases the
// reference the queue held on it. It reports whether item was queued.
func (t *Transmitor[L, A]) Farewell(item L) bool {
	t.mu.Lock()
	i := slices.Index(t.loads, item)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.loads = slices.Delete(t.loads, i, i+1)
	t.mu.Unlock()

	releaseAll([]L{item})
	return true
}

// Retrieve pops the oldest item without waiting. The caller takes over the
// queue's reference.
func (t *Transmitor[L, A]) Retrieve() (L, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero L
	if len(t.loads) == 0 {
		return zero, false
	}
	item := t.loads[0]
	t.loads[0] = zero
	t.loads = t.loads[1:]
	return item, true
}

// Expect waits up to timeout for a queued item satisfying e. The item stays
// queued; the caller hands it back with Farewell once done.
//
// It returns the zero L with a nil error when e is satisfied without input.
// On timeout it returns ErrNoSenders if the transmitor once had senders and
// has none left, and ErrTryAgain otherwise. It returns ctx's error if ctx
// ends first.
func (t *Transmitor[L, A]) Expect(ctx context.Context, e Expectation[A], timeout time.Duration) (L, error) {
	var zero L
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		t.mu.Lock()
		idx, ok := match(e, t.loads)
		if ok {
			var item L
			if idx >= 0 {
				item = t.loads[idx]
			}
			t.mu.Unlock()
			return item, nil
		}
		noSenders := t.hadSenders && len(t.senders) == 0
		wake := t.notify
		t.mu.Unlock()

		if deadline == nil {
			if noSenders {
				return zero, errors.ErrNoSenders
			}
			return zero, errors.ErrTryAgain
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline:
			deadline = nil
		}
	}
}

// Clear detaches the transmitor from every upstream, then drops its queue and
// adjacency. Items welcomed afterwards are refused.
func (t *Transmitor[L, A]) Clear() {
	t.mu.Lock()
	t.closed = true
	var upstream []*Transmitor[L, A]
	for _, s := range t.senders {
		if s.peer != nil && !slices.Contains(upstream, s.peer) {
			upstream = append(upstream, s.peer)
		}
	}
	t.mu.Unlock()

	for _, up := range upstream {
		up.DeleteRecipient(t)
	}

	t.mu.Lock()
	dropped := t.loads
	t.loads = nil
	t.senders = nil
	t.recipients = nil
	t.signalLocked()
	t.mu.Unlock()

	releaseAll(dropped)
}

// Closed reports whether Clear has run.
func (t *Transmitor[L, A]) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Senders returns the registered sender addresses.
func (t *Transmitor[L, A]) Senders() []A {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]A, len(t.senders))
	for i, s := range t.senders {
		out[i] = s.addr
	}
	return out
}

// HasSender reports whether a sender equal to addr is registered.
func (t *Transmitor[L, A]) HasSender(addr A) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.senders {
		if s.addr.Equal(addr) {
			return true
		}
	}
	return false
}

// Recipients returns the number of recipient links.
func (t *Transmitor[L, A]) Recipients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recipients)
}

// Len returns the number of queued items.
func (t *Transmitor[L, A]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.loads)
}

// ReceiveCount returns how many items arrived from addr.
func (t *Transmitor[L, A]) ReceiveCount(addr A) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := counterIndex(t.received, addr); i >= 0 {
		return t.received[i].n
	}
	return 0
}

// SendCount returns how many items were sent to the transmitor addressed addr.
func (t *Transmitor[L, A]) SendCount(addr A) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := counterIndex(t.sent, addr); i >= 0 {
		return t.sent[i].n
	}
	return 0
}

// Stats renders receive and send counters for logs.
func (t *Transmitor[L, A]) Stats() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("in %s out %s", formatCounters(t.received), formatCounters(t.sent))
}

func (t *Transmitor[L, A]) signalLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func counterIndex[A Addressable[A]](counters []counter[A], addr A) int {
	for i, c := range counters {
		if c.addr.Equal(addr) {
			return i
		}
	}
	return -1
}

func formatCounters[A Addressable[A]](counters []counter[A]) string {
	parts := make([]string, len(counters))
	for i, c := range counters {
		parts[i] = fmt.Sprintf("<%v = %d>", c.addr, c.n)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func releaseAll[L any](items []L) {
	for _, item := range items {
		if h, ok := any(item).(holder); ok {
			h.Release()
		}
	}
}
