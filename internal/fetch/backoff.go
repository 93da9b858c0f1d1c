package fetch

import "time"

// Backoff is an exponential retry schedule with a cap, generalized out of
// the webhook dispatcher's inline retry loop into a reusable policy shape;
// HTTPFetcher uses it (cmd/server sets it from config), the worker does not.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Retries int
}

// DefaultBackoff is a reasonable policy for module fetches: a few retries,
// starting small, capped well under a minute.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 10 * time.Second, Retries: 4}

// Delay returns the wait before the given attempt (1-indexed: attempt 1 is
// the delay before the first retry). Doubles each attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
