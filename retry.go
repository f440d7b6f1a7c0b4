package panda

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go"
)

// RetryPolicy governs how transient transport errors are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, 0 retries until success
	MaxAttempts uint
	// Delay between attempts, 0 retries immediately
	Delay time.Duration
	// Backoff doubles Delay after every attempt
	Backoff bool
}

// DefaultRetryPolicy retries forever without delay. A locally attached device is
// expected to recover from overflows on its own.
var DefaultRetryPolicy = RetryPolicy{}

func (rp RetryPolicy) options(ctx context.Context, onRetry func(n uint, err error)) []retry.Option {
	attempts := rp.MaxAttempts
	if attempts == 0 {
		attempts = math.MaxUint
	}
	delayType := retry.FixedDelay
	if rp.Backoff {
		delayType = retry.BackOffDelay
	}
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(rp.Delay),
		retry.DelayType(delayType),
		retry.RetryIf(IsTransient),
		retry.OnRetry(onRetry),
		retry.LastErrorOnly(true),
	}
}

// Do runs op until it succeeds, returns a non transient error or the policy gives up.
// Non transient errors are returned unchanged.
func (rp RetryPolicy) Do(ctx context.Context, op func() error, onRetry func(n uint, err error)) error {
	if onRetry == nil {
		onRetry = func(uint, error) {}
	}
	var last error
	var tries uint
	err := retry.Do(func() error {
		tries++
		last = op()
		return last
	}, rp.options(ctx, onRetry)...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if last == nil {
		return err
	}
	if IsTransient(last) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, tries, last)
	}
	return last
}
