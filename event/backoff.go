package event

import "time"

// Default backoff bounds shared by the server retry scheduler and the
// client send queue.
const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff returns the delay before the next retry attempt for a record
// that has already been retried retryCount times:
//
//	min(base * 2^retryCount, max)
//
// The schedule is deterministic with no jitter: retries are server- or
// sweep-initiated, and collisions across independent event IDs are
// harmless because receivers de-duplicate.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}

	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}

	if d > max {
		return max
	}
	return d
}
