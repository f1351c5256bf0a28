package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy describes bounded retry with exponential backoff and jitter.
// MaxRetries counts retries after the first try, so a policy with MaxRetries
// of 3 runs an operation at most 4 times.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	Jitter        float64
}

// MaxAttempts returns the total number of tries the policy permits.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// nextBackoff draws the jittered sleep for the current delay and returns it
// with the grown delay for the following attempt.
func (p RetryPolicy) nextBackoff(delay time.Duration) (sleep, next time.Duration) {
	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	slept := float64(delay) * (1 + jitter*(2*rand.Float64()-1))
	if slept < 0 {
		slept = 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(slept), time.Duration(float64(delay) * factor)
}

// Retry runs op under the policy, retrying failures retryable reports as
// transient. The error returned is always the operation's last real error:
// no "retries exhausted" wrapper is ever introduced, and a non-retryable
// failure returns immediately. Each retry logs the attempt index, total
// planned attempts, the failure, and the computed sleep. Cancellation during
// a backoff sleep stops retrying and surfaces the last failure.
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, retryable func(error) bool, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts()
	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		sleep, next := policy.nextBackoff(delay)
		delay = next
		retriesTotal.Inc()
		logger.Warn("transient fetch failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("sleep", sleep),
			zap.Error(lastErr),
		)
		if err := sleepContext(ctx, sleep); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// sleepContext sleeps for d or until ctx finishes, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
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
