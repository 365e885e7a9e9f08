// Package retry holds the bounded retry policy shared by listing page loads and file fetches.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often an operation is attempted and how long to wait in between
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	// Multiplier > 1 grows the wait after every failed attempt.
	Multiplier float64 `mapstructure:"multiplier"`
}

// DefaultPolicy mirrors the three attempts / two seconds used throughout the harvester.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// Attempts returns the effective attempt bound (at least one).
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a Permanent error, the attempts are exhausted or ctx is
// done. It reports how many attempts were made together with the last error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return op(attempts)
	}, p.backOff(ctx))

	return attempts, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier > 1 && p.Backoff > 0 {
		exp := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(p.Backoff),
			backoff.WithMultiplier(p.Multiplier),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxElapsedTime(0),
		)
		b = exp
	} else {
		b = backoff.NewConstantBackOff(p.Backoff)
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts()-1)), ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
