// Package retry provides the single retry policy shared by the downloader and
// the fetch strategies: a bounded number of attempts with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential-backoff retry schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the acquisition default: 3 attempts, delays doubling
// from 4s and capped at 10s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op under the policy, retrying transient failures until the attempt
// budget is exhausted or the context is cancelled. Errors wrapped with
// Permanent stop the loop at once.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := uint64(1)
	if p.MaxAttempts > 1 {
		attempts = uint64(p.MaxAttempts)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
}
