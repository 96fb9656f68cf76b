// Package retry wraps bounded retry loops around operations that call
// external tools. The signing engine is the main consumer; anything else
// that needs attempt-counted retries with a fixed pause should come here
// instead of hand-rolling a loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Do invokes op up to attempts times, pausing interval between failures.
// It stops early when ctx is cancelled or op wraps its error with Permanent.
// The error from the last attempt is returned.
func Do(ctx context.Context, attempts uint64, interval time.Duration, op func() error) error {
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts-1)
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Permanent marks err as non-retryable so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
