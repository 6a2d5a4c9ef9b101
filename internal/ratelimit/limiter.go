// Package ratelimit enforces per-provider request quotas over a rolling
// window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrRateLimited reports that no permit became available before the caller's
// deadline.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter grants at most quota permits within any rolling window. It tracks
// the grant timestamps still inside the window, so the cap holds exactly
// across window boundaries.
type Limiter struct {
	quota  int
	window time.Duration
	clock  clockwork.Clock

	mu     sync.Mutex
	grants []time.Time // grant times still inside the window, oldest first
}

// New creates a limiter granting quota permits per window.
func New(quota int, window time.Duration, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		quota:  quota,
		window: window,
		clock:  clock,
		grants: make([]time.Time, 0, quota),
	}
}

// Acquire blocks until a permit is available or ctx is done, in which case it
// fails with ErrRateLimited. Safe for concurrent callers.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		if len(l.grants) < l.quota {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.grants[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRateLimited, ctx.Err())
		case <-l.clock.After(wait):
			// A permit may have expired; another waiter may also have taken
			// it, so loop and re-check.
		}
	}
}

// TryAcquire takes a permit if one is available right now. It never blocks;
// a false return means the window is full.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.prune(now)
	if len(l.grants) < l.quota {
		l.grants = append(l.grants, now)
		return true
	}
	return false
}

// Available returns how many permits could be granted right now.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return l.quota - len(l.grants)
}

// Quota returns the configured permits-per-window cap.
func (l *Limiter) Quota() int { return l.quota }

// prune drops grants that have aged out of the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}
