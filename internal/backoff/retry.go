// Package backoff retries fallible setup calls with capped exponential
// delays. Backend construction and the remote source client go through
// [Retry]; steady-state operations never do.
package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// DefaultMaxAttempts is the attempt budget callers use unless they have a
// reason to deviate.
const DefaultMaxAttempts = 3

const (
	initialDelay = 500 * time.Millisecond
	delayCap     = 5 * time.Second
)

// Retry runs fn until it returns nil, making at most maxAttempts calls and
// sleeping a jittered, exponentially growing interval between failures. The
// returned error wraps the last failure once the budget is spent. A cancelled
// context stops both the waiting and any further calls.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

// backoffDelay returns the sleep that follows the given attempt index: the
// exponential step, capped, with the upper half jittered so simultaneous
// clients spread out. The result lands in [step/2, step).
func backoffDelay(attempt int) time.Duration {
	step := initialDelay << attempt
	if step > delayCap || step <= 0 {
		step = delayCap
	}
	half := step / 2
	return half + time.Duration(rand.Int63n(int64(half))) //nolint:gosec // jitter needs no crypto randomness
}
