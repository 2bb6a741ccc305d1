package service

import (
	"errors"
	"sync"
)

// ErrTooManyRequests signals the admission cap was hit. Terminal for the
// request, with no side effects.
var ErrTooManyRequests = errors.New("too many concurrent scrape requests")

// Limiter bounds the number of in-flight scrape requests. By default the
// cap is tied to the number of configured accounts.
type Limiter struct {
	mu     sync.Mutex
	active int
	max    int
}

// NewLimiter builds a limiter with the given cap (min 1).
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{max: max}
}

// AcquireSlot claims one slot or rejects, leaving the counter unchanged on
// rejection.
func (l *Limiter) AcquireSlot() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.max {
		return ErrTooManyRequests
	}
	l.active++
	return nil
}

// ReleaseSlot frees one slot, floored at zero.
func (l *Limiter) ReleaseSlot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// Active returns the current in-flight count.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
