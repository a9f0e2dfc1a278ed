package worker

import "github.com/c360/avflow/errors"

// Sentinel errors for pool operations
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
	ErrWorkPanicked       = errors.New("work item panicked")

	// ErrQueueFull is returned by Submit instead of blocking.
	ErrQueueFull = errors.New("worker pool queue full")
)
