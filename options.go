package courier

import (
	"log/slog"
	"time"

	"github.com/tabflow/courier/catalog"
	"github.com/tabflow/courier/observability"
	"github.com/tabflow/courier/transport"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithTransport sets the pub/sub socket transport the core binds to.
func WithTransport(t transport.Transport) Option {
	return func(c *Courier) error {
		c.transport = t
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metric instruments for the Courier instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for the Courier instance.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithCatalog sets an optional topic catalog. When set, Publish rejects
// unknown and deprecated topics and validates payloads against topic
// schemas.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *Courier) error {
		c.catalog = cat
		return nil
	}
}

// WithClientEventHandler sets the callback invoked for events that
// terminals originate (order entry, local menu edits, ...).
func WithClientEventHandler(h ClientEventHandler) Option {
	return func(c *Courier) error {
		c.clientEvents = h
		return nil
	}
}

// WithMaxRetries sets the retry budget per event record.
func WithMaxRetries(n int) Option {
	return func(c *Courier) error {
		c.config.MaxRetries = n
		return nil
	}
}

// WithBaseDelay sets the initial retry backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.BaseDelay = d
		return nil
	}
}

// WithMaxDelay caps the retry backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.MaxDelay = d
		return nil
	}
}

// WithSweepInterval sets the retry scheduler's tick period.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.SweepInterval = d
		return nil
	}
}

// WithMaxRecords caps the event store size.
func WithMaxRecords(n int) Option {
	return func(c *Courier) error {
		c.config.MaxRecords = n
		return nil
	}
}

// WithRetention sets the maximum event record age.
func WithRetention(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.Retention = d
		return nil
	}
}

// WithRetentionSweepInterval sets how often the retention sweep runs.
func WithRetentionSweepInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RetentionSweepInterval = d
		return nil
	}
}

// WithClientEventRate throttles client-originated events per connection,
// in events per second. 0 disables throttling.
func WithClientEventRate(n int) Option {
	return func(c *Courier) error {
		c.config.ClientEventRate = n
		return nil
	}
}
