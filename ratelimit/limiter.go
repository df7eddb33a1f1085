// Package ratelimit throttles client-originated events per connection.
//
// Each connection gets its own token bucket, created lazily on first use
// and discarded when the connection closes. Buckets start full, so a
// terminal may burst up to one second's worth of events after connecting.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter tracks one token bucket per connection ID.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket accrues perSec tokens per second up to a burst of perSec.
type bucket struct {
	tokens float64
	filled time.Time
	perSec float64
}

func (b *bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.filled).Seconds() * b.perSec
	if b.tokens > b.perSec {
		b.tokens = b.perSec
	}
	b.filled = now
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow consumes one token from the connection's bucket, reporting whether
// one was available. A rate of 0 or less means unlimited.
func (l *Limiter) Allow(connID string, rate int) bool {
	if rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[connID]
	if !ok {
		b = &bucket{tokens: float64(rate), filled: time.Now(), perSec: float64(rate)}
		l.buckets[connID] = b
	}

	b.refill(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until the connection's bucket yields a token or the context
// is cancelled. A rate of 0 or less returns immediately.
func (l *Limiter) Wait(ctx context.Context, connID string, rate int) error {
	for {
		if l.Allow(connID, rate) {
			return nil
		}

		// One token's worth of accrual time before re-checking.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second / time.Duration(rate)):
		}
	}
}

// Reset drops the connection's bucket. Called when the connection closes,
// so a reconnecting terminal starts with a full bucket again.
func (l *Limiter) Reset(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, connID)
}
