// Package retry reruns an operation with exponential backoff. Inputs use it to
// reopen a source a configured number of times before giving up.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/avflow/errors"
)

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent stops Do at the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be retried. Errors classified as
// invalid or fatal are permanent too.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.IsInvalid(err) || errors.IsFatal(err)
}

// Policy controls how often and how fast Do retries.
type Policy struct {
	Attempts   int           // total tries including the first; below 1 means 1
	Initial    time.Duration // wait after the first failure
	Max        time.Duration // upper bound of a single wait
	Multiplier float64       // growth factor of the wait
	Jitter     bool          // add up to 25% random wait

	// Notify, when set, is called before each wait.
	Notify func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy tries three times, starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Reconnect is the policy for reopening a media source. retries counts the
// tries after the first one, so zero opens once.
func Reconnect(retries int) Policy {
	return Policy{
		Attempts:   max(retries, 0) + 1,
		Initial:    200 * time.Millisecond,
		Max:        3 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

func (p Policy) normalize() (Policy, error) {
	if p.Initial < 0 || p.Max < 0 || p.Multiplier < 0 {
		return p, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative policy value")
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial == 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max == 0 {
		p.Max = 5 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	p.Multiplier = min(p.Multiplier, 1000)
	if p.Max < p.Initial {
		return p, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "max wait below initial wait")
	}
	return p, nil
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx ends. attempt starts at 1.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p, err := p.normalize()
	if err != nil {
		return err
	}

	var last error
	wait := p.Initial
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if last = fn(attempt); last == nil {
			return nil
		}
		if IsPermanent(last) {
			return last
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == p.Attempts {
			break
		}

		sleep := wait
		if p.Jitter && wait >= 4 {
			sleep += rand.N(wait / 4)
		}
		if p.Notify != nil {
			p.Notify(attempt, last, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled waiting for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := float64(wait) * p.Multiplier
		if next > float64(p.Max) {
			wait = p.Max
		} else {
			wait = time.Duration(next)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.Attempts, last)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(attempt int) error {
		v, err := fn(attempt)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
