package media

import (
	"context"
	"math"
	"sync"
)

// Limiter bounds the number of buffers a producer has in flight. A slot is
// taken when a buffer is emitted and given back when the last holder of that
// buffer releases it. Waiters are served in arrival order.
type Limiter struct {
	mu      sync.Mutex
	cur     int
	max     int
	waiters []chan struct{}
}

// NewLimiter returns a limiter allowing max buffers in flight. A max of zero
// or less means unbounded.
func NewLimiter(max int) *Limiter {
	l := &Limiter{}
	l.SetMax(max)
	return l
}

// SetMax changes the bound. Raising it wakes as many waiters as now fit;
// lowering it only affects later acquisitions.
func (l *Limiter) SetMax(max int) {
	if max <= 0 {
		max = math.MaxInt
	}
	l.mu.Lock()
	l.max = max
	l.wakeLocked()
	l.mu.Unlock()
}

// Max returns the bound.
func (l *Limiter) Max() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// InFlight returns the number of slots currently taken.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Waiting returns the number of blocked acquirers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Acquire takes a slot, blocking while the limiter is full. It returns ctx's
// error if ctx ends first, in which case no slot is held.
func (l *Limiter) Acquire(ctx context.Context) (*Slot, error) {
	l.mu.Lock()
	if len(l.waiters) == 0 && l.cur < l.max {
		l.cur++
		l.mu.Unlock()
		return &Slot{limiter: l}, nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return &Slot{limiter: l}, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ready {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	l.mu.Unlock()

	// a release handed us the slot while ctx was ending; pass it on
	l.release()
	return nil, ctx.Err()
}

// Limit takes a slot for b and attaches it, so the slot is given back when b
// is finally released.
func (l *Limiter) Limit(ctx context.Context, b *Buffer) error {
	slot, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	b.attach(slot)
	return nil
}

func (l *Limiter) release() {
	l.mu.Lock()
	l.cur--
	l.wakeLocked()
	l.mu.Unlock()
}

// wakeLocked hands free slots to waiters in order.
func (l *Limiter) wakeLocked() {
	for len(l.waiters) > 0 && l.cur < l.max {
		ready := l.waiters[0]
		l.waiters[0] = nil
		l.waiters = l.waiters[1:]
		l.cur++
		close(ready)
	}
}

// Slot is one taken place in a Limiter. Release gives it back; only the first
// call has an effect.
type Slot struct {
	limiter *Limiter
	once    sync.Once
}

// Release gives the slot back to its limiter.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.limiter.release)
}
