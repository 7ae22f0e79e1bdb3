package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return nil
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errTestError
		}
		return nil
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error after max attempts, got nil")
	}
	if !errors.Is(err, errTestError) {
		t.Errorf("Expected wrapped last error, got: %v", err)
	}
	if attempts != 3 { // MaxAttempts + 1 (initial attempt)
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_Disabled(t *testing.T) {
	cfg := Config{
		Enabled: false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got: %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel while the first backoff delay is in progress
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error due to context cancellation, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
	if attempts < 1 {
		t.Errorf("Expected at least 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	// First attempt delay should be initial delay
	delay1 := calculateDelay(cfg, 0)
	if delay1 != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got: %v", delay1)
	}

	// Second attempt should be doubled
	delay2 := calculateDelay(cfg, 1)
	if delay2 != 200*time.Millisecond {
		t.Errorf("Expected 200ms, got: %v", delay2)
	}

	// Third attempt should be quadrupled
	delay3 := calculateDelay(cfg, 2)
	if delay3 != 400*time.Millisecond {
		t.Errorf("Expected 400ms, got: %v", delay3)
	}
}

func TestCalculateDelay_MaxDelayCap(t *testing.T) {
	cfg := Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	// Delay should be capped at MaxDelay
	delay := calculateDelay(cfg, 5) // Would be 32 seconds without cap
	if delay > cfg.MaxDelay {
		t.Errorf("Expected delay <= %v, got: %v", cfg.MaxDelay, delay)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	// All delays should stay within the Â±25% jitter window
	baseDelay := 200 * time.Millisecond
	minDelay := baseDelay - baseDelay/4
	maxDelay := baseDelay + baseDelay/4

	for i := 0; i < 10; i++ {
		delay := calculateDelay(cfg, 1)
		if delay < minDelay || delay > maxDelay {
			t.Errorf("Delay %d out of range: got %v, expected between %v and %v", i, delay, minDelay, maxDelay)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true")
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts to be 3, got: %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected InitialDelay to be 100ms, got: %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to be 5s, got: %v", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier to be 2.0, got: %f", cfg.Multiplier)
	}
	if !cfg.Jitter {
		t.Error("Expected Jitter to be true")
	}
}
