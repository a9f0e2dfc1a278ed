// Package errors provides standardized error handling for avflow nodes and
// implementations. It includes error classification, the sentinel errors the
// runtime reports, and helpers for consistent wrapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Processing outcomes
	ErrTryAgain    = errors.New("resource temporarily unavailable, try again")
	ErrEndOfStream = errors.New("end of stream")
	ErrNoSenders   = errors.New("no senders left")
	ErrEdgeClosed  = errors.New("edge closed")

	// Implementation lifecycle errors
	ErrDynamicInit          = errors.New("dynamic initialization failed")
	ErrEmptyImplementation  = errors.New("node has no implementation")
	ErrEmptyOption          = errors.New("empty options")
	ErrNoCategory           = errors.New("options carry no class category")
	ErrNoVariant            = errors.New("options carry no implementation type")
	ErrVariantNotRegistered = errors.New("implementation type not registered")
	ErrCreateImplementation = errors.New("implementation construction failed")
	ErrEventNotSupported    = errors.New("event not supported")

	// Option dictionary errors
	ErrNoSuchKey       = errors.New("no such key")
	ErrKeyExists       = errors.New("key already exists")
	ErrValueInvalid    = errors.New("invalid value")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrTypeMismatch    = errors.New("value type mismatch")

	// Timestamp errors
	ErrNoDTS           = errors.New("packet has no valid dts")
	ErrDTSNotMonotonic = errors.New("packet dts not monotonic")

	// Stream descriptor errors
	ErrInvalidDescriptor = errors.New("invalid stream descriptor")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// sentinelClasses classifies the sentinels above when they reach a caller
// unwrapped. The first match wins, so transient sentinels take precedence.
var sentinelClasses = []struct {
	class     ErrorClass
	sentinels []error
}{
	{ErrorTransient, []error{ErrTryAgain, context.DeadlineExceeded, context.Canceled}},
	{ErrorFatal, []error{ErrDynamicInit, ErrEmptyImplementation, ErrCreateImplementation, ErrInvalidConfig, ErrMissingConfig}},
	{ErrorInvalid, []error{ErrValueInvalid, ErrValueOutOfRange, ErrTypeMismatch, ErrNoDTS, ErrDTSNotMonotonic, ErrInvalidDescriptor}},
}

// transientText matches messages of unclassified errors from other packages
// (sockets, the NATS client) that are worth retrying.
var transientText = []string{"timeout", "temporary", "unavailable", "busy", "try again"}

// ClassifiedError carries a class along with the component and operation
// that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// classOf reports the class err carries, either explicitly through a
// ClassifiedError or through a known sentinel in its chain.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, c := range sentinelClasses {
		for _, sentinel := range c.sentinels {
			if errors.Is(err, sentinel) {
				return c.class, true
			}
		}
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientText {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should stop the node that hit it.
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return err != nil && ok && class == ErrorFatal
}

// IsInvalid reports whether err was caused by bad input or configuration.
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return err != nil && ok && class == ErrorInvalid
}

// Classify returns the class of err. Unclassified errors, and nil, count as
// transient.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// IsEOF reports whether err marks a clean end of stream.
func IsEOF(err error) bool {
	return errors.Is(err, ErrEndOfStream)
}

// Wrap adds context in the form "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap, classified as transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap, classified as fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap, classified as invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return errors.Join(errs...) }
