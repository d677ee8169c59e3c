package exchange

import (
	"sync"
	"time"

	"bagging-bot/internal/errors"
)

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"    // requests flow
	BreakerOpen     BreakerState = "OPEN"      // requests fail fast
	BreakerHalfOpen BreakerState = "HALF_OPEN" // one trial request decides
)

// breaker stops calling the exchange after consecutive transport-level failures
// and lets a single trial request through once the cooldown has passed.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// newBreaker creates a closed breaker. A threshold of zero disables it.
func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// allow reports ErrExchangeUnavailable while the breaker is open.
func (b *breaker) allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return errors.Wrapf(errors.ErrExchangeUnavailable, "circuit open after %d failures", b.threshold)
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return errors.Wrap(errors.ErrExchangeUnavailable, "circuit half-open, trial request in flight")
		}
		b.probing = true
	}
	return nil
}

// record updates the breaker with the outcome of an allowed request. Only
// failures that say nothing about the request itself count against the exchange.
func (b *breaker) record(failed bool) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !failed {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.failures = 0
	}
}

// State returns the current state.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
