// Package errors provides standardized error handling for avflow.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, the node loop retries),
// Invalid (bad input or a bad option value, do not retry) and Fatal (the node
// or implementation cannot continue).
//
// The processing loop of a node relies on two sentinels that are not failures
// at all:
//
//	errors.ErrTryAgain     // no input is ready yet, call again
//	errors.ErrEndOfStream  // the implementation finished cleanly
//
// Implementations return them directly or wrapped; use errors.Is or IsEOF to
// test for them.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions add a classification:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The plain Wrap function preserves the classification of the wrapped error:
//
//	errors.Wrap(err, "Registry", "Create", "construct implementation")
//
// # Diagnostics
//
// Sentinel errors map onto numeric diagnostic codes in the message package,
// which is how failures surface to the embedding application without
// aborting the process.
package errors
