package courier

import "time"

// Config holds the configuration for a Courier instance.
type Config struct {
	// MaxRetries is the retry budget per event record.
	MaxRetries int

	// BaseDelay and MaxDelay bound the exponential retry backoff:
	// min(BaseDelay * 2^retryCount, MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// SweepInterval is the retry scheduler's tick period.
	SweepInterval time.Duration

	// MaxRecords caps the event store; exceeding it evicts the oldest 10%.
	MaxRecords int

	// Retention is the maximum record age. Older records are deleted
	// regardless of delivery state.
	Retention time.Duration

	// RetentionSweepInterval is how often the retention sweep runs.
	RetentionSweepInterval time.Duration

	// ClientEventRate throttles client-originated events per connection,
	// in events per second. 0 disables throttling.
	ClientEventRate int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:             5,
		BaseDelay:              1 * time.Second,
		MaxDelay:               30 * time.Second,
		SweepInterval:          5 * time.Second,
		MaxRecords:             10000,
		Retention:              24 * time.Hour,
		RetentionSweepInterval: 10 * time.Minute,
		ClientEventRate:        0,
	}
}
