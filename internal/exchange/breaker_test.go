package exchange

import (
	"testing"
	"time"

	"bagging-bot/internal/errors"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(3, 30*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := b.allow(); err != nil {
			t.Fatalf("request %d refused while closed: %v", i, err)
		}
		b.record(true)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s after 3 failures, want OPEN", b.State())
	}
	if err := b.allow(); !errors.Is(err, errors.ErrExchangeUnavailable) {
		t.Fatalf("open breaker should fail fast, got %v", err)
	}

	now = now.Add(31 * time.Second)
	if err := b.allow(); err != nil {
		t.Fatalf("trial request refused after cooldown: %v", err)
	}
	if err := b.allow(); !errors.Is(err, errors.ErrExchangeUnavailable) {
		t.Errorf("second request during the trial should be refused, got %v", err)
	}
	b.record(true)
	if b.State() != BreakerOpen {
		t.Fatalf("failed trial should reopen, got %s", b.State())
	}

	now = now.Add(31 * time.Second)
	if err := b.allow(); err != nil {
		t.Fatalf("trial request refused: %v", err)
	}
	b.record(false)
	if b.State() != BreakerClosed {
		t.Errorf("successful trial should close, got %s", b.State())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := newBreaker(2, time.Minute)
	b.record(true)
	b.record(false)
	b.record(true)
	if b.State() != BreakerClosed {
		t.Errorf("non-consecutive failures should not open, got %s", b.State())
	}
}

func TestBreaker_Disabled(t *testing.T) {
	b := newBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		b.record(true)
	}
	if err := b.allow(); err != nil {
		t.Errorf("disabled breaker refused: %v", err)
	}
}
