package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps every delay
	MaxBackoff time.Duration
	// BackoffMultiplier grows the delay between attempts
	BackoffMultiplier float64
	// Jitter adds up to 50% of the delay at random
	Jitter bool
	// AttemptTimeout bounds each attempt when > 0
	AttemptTimeout time.Duration
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
	// OnRetry is called before sleeping ahead of attempt (1-based retry number)
	OnRetry func(retry int, delay time.Duration, err error)
	// Backoff, when set, replaces the exponential schedule. It receives the
	// 1-based retry number.
	Backoff func(retry int) time.Duration
}

// DefaultRetryConfig mirrors the background refresh policy: three attempts,
// 100ms doubling backoff with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		AttemptTimeout:    10 * time.Second,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except cancellation and an open breaker.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Retry runs fn until it succeeds, returns a non-retryable error, the retry
// budget runs out or ctx is done. The last error is returned.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = runAttempt(ctx, config.AttemptTimeout, fn)
		if err == nil {
			return nil
		}
		if attempt >= config.MaxRetries || !retryable(err) {
			return err
		}
		var delay time.Duration
		if config.Backoff != nil {
			delay = config.Backoff(attempt + 1)
		} else {
			delay = calculateBackoff(attempt, config)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	mult := config.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(mult, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += rand.Float64() * backoff * 0.5
	}
	return time.Duration(backoff)
}
