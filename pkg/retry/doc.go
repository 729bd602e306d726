// Package retry provides retry logic with exponential backoff and jitter.
//
// The package does not decide which errors are transient: every call names
// its own predicate. litedb uses it to retry statements that failed because
// another connection held the database file lock.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return db.ImmediateTransaction(ctx, body)
//	}, sqlite.IsBusy)
//
// Observability:
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    log.Warn("retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
package retry
