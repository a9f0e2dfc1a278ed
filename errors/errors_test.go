package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassString(t *testing.T) {
	for class, want := range map[ErrorClass]string{
		ErrorTransient:  "transient",
		ErrorInvalid:    "invalid",
		ErrorFatal:      "fatal",
		ErrorClass(999): "unknown",
	} {
		if got := class.String(); got != want {
			t.Errorf("ErrorClass(%d).String() = %q, want %q", class, got, want)
		}
	}
}

// Each row states what all three predicates must say about err.
func TestPredicates(t *testing.T) {
	tests := []struct {
		name                      string
		err                       error
		transient, invalid, fatal bool
	}{
		{"nil", nil, false, false, false},
		{"try again", ErrTryAgain, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"canceled", context.Canceled, true, false, false},
		{"timeout text", fmt.Errorf("udp read timeout"), true, false, false},
		{"dynamic init", ErrDynamicInit, false, false, true},
		{"empty implementation", ErrEmptyImplementation, false, false, true},
		{"wrapped create failure", fmt.Errorf("registry: %w", ErrCreateImplementation), false, false, true},
		{"invalid config", ErrInvalidConfig, false, false, true},
		{"value invalid", ErrValueInvalid, false, true, false},
		{"out of range", ErrValueOutOfRange, false, true, false},
		{"no dts", ErrNoDTS, false, true, false},
		{"dts not monotonic", ErrDTSNotMonotonic, false, true, false},
		{"bad descriptor", ErrInvalidDescriptor, false, true, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: ErrDynamicInit}, true, false, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: ErrTryAgain}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsInvalid(tt.err); got != tt.invalid {
				t.Errorf("IsInvalid = %v, want %v", got, tt.invalid)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"try again", ErrTryAgain, ErrorTransient},
		{"dynamic init", ErrDynamicInit, ErrorFatal},
		{"value invalid", ErrValueInvalid, ErrorInvalid},
		{"unknown", fmt.Errorf("something odd"), ErrorTransient},
		{"transient sentinel wins", errors.Join(ErrDynamicInit, ErrTryAgain), ErrorTransient},
		{"classified wins over sentinel", WrapInvalid(ErrDynamicInit, "Node", "Start", "init"), ErrorInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEOF(t *testing.T) {
	if !IsEOF(Wrap(ErrEndOfStream, "Demux", "OnProcess", "read packet")) {
		t.Error("wrapped end of stream is not EOF")
	}
	if IsEOF(ErrTryAgain) {
		t.Error("try again reported as EOF")
	}
}

func TestClassifiedErrorText(t *testing.T) {
	base := fmt.Errorf("moov atom missing")

	ce := &ClassifiedError{Class: ErrorFatal, Err: base, Message: "Demuxer.OnConstruct: open failed"}
	if ce.Error() != "Demuxer.OnConstruct: open failed" {
		t.Errorf("Error() = %q", ce.Error())
	}
	if !errors.Is(ce, base) {
		t.Error("classified error does not unwrap to its cause")
	}

	bare := &ClassifiedError{Class: ErrorFatal, Err: base}
	if bare.Error() != base.Error() {
		t.Errorf("Error() without message = %q", bare.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "Node", "Start", "spawn") != nil {
		t.Error("wrapping nil returned an error")
	}

	err := Wrap(fmt.Errorf("constructor panicked"), "Registry", "Create", "construct implementation")
	want := "Registry.Create: construct implementation failed: constructor panicked"
	if err == nil || err.Error() != want {
		t.Errorf("Wrap = %v, want %q", err, want)
	}
}

func TestWrapClassified(t *testing.T) {
	wrappers := map[ErrorClass]func(error, string, string, string) error{
		ErrorTransient: WrapTransient,
		ErrorFatal:     WrapFatal,
		ErrorInvalid:   WrapInvalid,
	}
	for class, wrap := range wrappers {
		t.Run(class.String(), func(t *testing.T) {
			err := wrap(ErrNoSenders, "Transmitor", "Expect", "wait for input")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("%T is not a ClassifiedError", err)
			}
			if ce.Class != class || ce.Component != "Transmitor" || ce.Operation != "Expect" {
				t.Errorf("got class=%v component=%s operation=%s", ce.Class, ce.Component, ce.Operation)
			}
			if !strings.HasPrefix(ce.Error(), "Transmitor.Expect: wait for input failed") {
				t.Errorf("Error() = %q", ce.Error())
			}
			if !errors.Is(err, ErrNoSenders) {
				t.Error("sentinel lost in wrapping")
			}
		})
	}
}

func BenchmarkClassify(b *testing.B) {
	err := fmt.Errorf("node: %w", ErrTryAgain)
	for i := 0; i < b.N; i++ {
		Classify(err)
	}
}
