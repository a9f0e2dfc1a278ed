package buffer

import "github.com/c360/avflow/metric"

// Option configures a buffer created by NewCircularBuffer.
type Option[T any] func(*settings[T])

type settings[T any] struct {
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	registry *metric.MetricsRegistry
	label    string
}

// WithOverflowPolicy chooses what a full buffer does on Write. The default
// is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(s *settings[T]) { s.policy = policy }
}

// WithMetrics exports the buffer gauges and counters under label. Either a
// nil registry or an empty label leaves them off.
func WithMetrics[T any](registry *metric.MetricsRegistry, label string) Option[T] {
	return func(s *settings[T]) {
		if registry == nil || label == "" {
			return
		}
		s.registry, s.label = registry, label
	}
}

// WithDropCallback is called, outside the buffer lock, with each item the
// overflow policy discards.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(s *settings[T]) { s.onDrop = fn }
}

func newSettings[T any](options []Option[T]) *settings[T] {
	s := &settings[T]{policy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s
}
