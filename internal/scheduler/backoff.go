package scheduler

import (
	"context"
	"time"
)

// jitterFraction is the upper bound of the random delay added to a backoff,
// as a fraction of the computed delay.
const jitterFraction = 0.1

// Backoff returns the delay before retry number attempt (zero-based):
// min(base * 2^attempt, maxDelay) plus jitter * 10% of that delay. jitter is
// clamped to [0, 1]; callers pass a uniform random value.
func Backoff(base, maxDelay time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 || maxDelay <= 0 {
		return 0
	}

	delay := base
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	switch {
	case jitter < 0:
		jitter = 0
	case jitter > 1:
		jitter = 1
	}
	return delay + time.Duration(float64(delay)*jitterFraction*jitter)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
