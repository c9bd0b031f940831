package storage

import (
	"context"
	"math/rand/v2"
	"time"
)

// Defaults used by WithTx.
const (
	txMaxRetries = 3
	txBaseDelay  = 20 * time.Millisecond
)

// WithRetry runs fn and reruns it up to maxRetries times while it fails with a
// serialization failure or deadlock. The pause doubles from baseDelay with up
// to baseDelay of jitter added. fn must rebuild any in-memory state it derives
// from the database on every attempt.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isRetriable(err) || attempt == maxRetries {
			return err
		}
		pause := delay
		if delay > 0 {
			pause += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}
