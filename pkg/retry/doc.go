// Package retry reruns an operation with exponential backoff.
//
// A source that may be briefly unavailable is opened like this:
//
//	policy := retry.Reconnect(opts.IntOr(option.KeyReconnectRetries, 0))
//	policy.Notify = func(attempt int, err error, wait time.Duration) {
//		logger.Warn("open failed, retrying", "attempt", attempt, "wait", wait, "error", err)
//	}
//	f, err := retry.Value(ctx, policy, func(int) (*os.File, error) {
//		return os.Open(path)
//	})
//
// Wrap an error with Permanent to stop immediately. Errors classified as
// invalid or fatal by the errors package stop retrying as well.
package retry
