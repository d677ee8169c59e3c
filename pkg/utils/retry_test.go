package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return calls, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || got != 3 {
		t.Errorf("calls = %d, result = %d, want 3", calls, got)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("expected one call and permanent error, got %d calls, %v", calls, err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Hour

	_, err := RetryWithResult(ctx, cfg, func() (int, error) { return 0, errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := CalculateBackoff(0, 100*time.Millisecond, time.Second, 2); got != 100*time.Millisecond {
		t.Errorf("attempt 0 = %v", got)
	}
	if got := CalculateBackoff(3, 100*time.Millisecond, time.Second, 2); got != 800*time.Millisecond {
		t.Errorf("attempt 3 = %v", got)
	}
	if got := CalculateBackoff(10, 100*time.Millisecond, time.Second, 2); got != time.Second {
		t.Errorf("attempt 10 should cap at max, got %v", got)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in       float64
		decimals int
		want     string
	}{
		{0, 2, "0.00"},
		{950, 2, "950.00"},
		{1234567.891, 2, "1,234,567.89"},
		{-1050.333, 2, "-1,050.33"},
		{-0.001, 2, "0.00"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%v, %d) = %q, want %q", tt.in, tt.decimals, got, tt.want)
		}
	}

	if got := FormatQuantity(125.5); got != "125.5" {
		t.Errorf("FormatQuantity = %q", got)
	}
	if got := FormatPnL(20, "USDT"); got != "+20.00 USDT" {
		t.Errorf("FormatPnL = %q", got)
	}
}
