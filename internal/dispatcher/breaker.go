package dispatcher

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the mail endpoint is considered down.
var ErrBreakerOpen = errors.New("mail endpoint circuit open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker guards the single SMTP endpoint. After threshold consecutive
// transport failures it opens for the cooldown period; the first call
// after cooldown is let through as a probe.
type breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clock().Sub(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			return nil
		}
		return ErrBreakerOpen
	case stateHalfOpen:
		// A probe is already in flight.
		return ErrBreakerOpen
	default:
		return nil
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.consecutiveFailures = 0
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.clock()
	}
}
