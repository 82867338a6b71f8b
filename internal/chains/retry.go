// ABOUTME: Bounded fixed-backoff polling for on-chain conditions.
// ABOUTME: Exhausting the attempt budget is a normal outcome, not an error.

package chains

import (
	"context"
	"time"
)

// Poll invokes check up to attempts times, sleeping backoff between tries,
// until it reports done. Returns (false, nil) when the budget runs out with
// the condition unmet: a best-effort wait, not a failure. Errors from check
// and context cancellation abort immediately.
func Poll(ctx context.Context, attempts int, backoff time.Duration, check func(ctx context.Context) (bool, error)) (bool, error) {
	for i := 0; i < attempts; i++ {
		done, err := check(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return false, nil
}
