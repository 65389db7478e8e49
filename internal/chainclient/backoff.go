package chainclient

import (
	"context"
	"time"
)

// backoff implements the exponential-backoff RPC retry policy shared by
// both ChainClient implementations: 15s per-call timeout (applied by the
// caller's context), retried with exponential delay up to a 5 minute
// ceiling (spec §5).
type backoff struct {
	initial time.Duration
	max     time.Duration
}

func newBackoff() *backoff {
	return &backoff{initial: 500 * time.Millisecond, max: 5 * time.Minute}
}

// Run calls fn until it succeeds or ctx is cancelled, sleeping with
// exponential backoff between attempts. It returns the last error if ctx
// is cancelled before fn succeeds.
func (b *backoff) Run(ctx context.Context, fn func() error) error {
	delay := b.initial
	var lastErr error

	for {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}

		delay *= 2
		if delay > b.max {
			delay = b.max
		}
	}
}
