package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    1 * time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), fastRetry(2), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}

	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	var retries []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(retry int, delay time.Duration, err error) {
		retries = append(retries, retry)
	}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if attempts != 3 { // Initial attempt + 2 retries
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("Expected retry callbacks [1 2], got %v", retries)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	cfg := fastRetry(3)
	cfg.RetryableErrors = func(err error) bool {
		return err.Error() != "non-retryable"
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("non-retryable")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_AttemptTimeout(t *testing.T) {
	cfg := fastRetry(1)
	cfg.AttemptTimeout = 10 * time.Millisecond

	attempts := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastRetry(5)
	cfg.InitialBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("temporary error")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}

	if attempts > 2 {
		t.Errorf("Expected few attempts due to timeout, got %d", attempts)
	}
}

func TestDefaultRetryableErrors(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("network error"), true},
		{ErrCircuitBreakerOpen, false},
		{ErrCircuitBreakerTimeout, true},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		result := DefaultRetryableErrors(tt.err)
		if result != tt.retryable {
			t.Errorf("Error %v: expected retryable=%v, got %v", tt.err, tt.retryable, result)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // Capped at MaxBackoff
		{5, 1 * time.Second}, // Still capped
	}

	for _, tt := range tests {
		result := calculateBackoff(tt.attempt, config)
		if result != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, result)
		}
	}
}

func TestCalculateBackoffWithJitter(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	results := make(map[time.Duration]bool)
	for range 20 {
		results[calculateBackoff(1, config)] = true
	}

	if len(results) < 2 {
		t.Error("Expected jitter to produce different backoff values")
	}

	for duration := range results {
		if duration < 200*time.Millisecond || duration > 300*time.Millisecond {
			t.Errorf("Jittered backoff %v outside expected range [200ms, 300ms]", duration)
		}
	}
}

func TestRetry_CustomBackoff(t *testing.T) {
	cfg := fastRetry(3)
	var delays []time.Duration
	cfg.Backoff = func(retry int) time.Duration {
		return time.Duration(retry) * time.Millisecond
	}
	cfg.OnRetry = func(retry int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("down")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Retry %d: expected %v, got %v", i+1, want[i], delays[i])
		}
	}
}
