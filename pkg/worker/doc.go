// Package worker runs queued work items on a fixed number of goroutines.
//
// A Pool is created stopped, started once with a context and stopped once.
// Submit never blocks: a full queue answers ErrQueueFull so the caller can
// fall back to doing the work itself. Stop closes the queue, lets workers
// finish what is already queued and waits up to a timeout. Cancelling the
// Start context makes workers exit after their current item instead.
//
// Statistics are always kept. Prometheus metrics are opt-in:
//
//	pool, err := worker.NewPool(4, 64, build,
//	    worker.WithMetrics[job](registry, "engine_build"))
//
// exports avflow_worker_items_total{pool="engine_build",result=...},
// avflow_worker_queue_depth and avflow_worker_duration_seconds.
//
// A panicking work item is recovered and counted as failed with
// ErrWorkPanicked; the worker keeps running.
package worker
