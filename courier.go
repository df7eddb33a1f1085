package courier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/catalog"
	"github.com/tabflow/courier/dispatch"
	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/observability"
	"github.com/tabflow/courier/ratelimit"
	"github.com/tabflow/courier/replay"
	"github.com/tabflow/courier/session"
	"github.com/tabflow/courier/store"
	"github.com/tabflow/courier/transport"
)

// ClientEventHandler is invoked for events terminals originate. The
// handler runs on the transport's dispatch path; returning an error makes
// the terminal's send queue retry the event.
type ClientEventHandler func(ctx context.Context, sess *session.Session, topic string, payload json.RawMessage) error

// Courier is the server-side reliable delivery core. The same Courier
// runs in both hosting contexts, the cloud gateway and the embedded LAN
// server, parameterized over the transport.
type Courier struct {
	config    Config
	transport transport.Transport
	catalog   *catalog.Catalog

	store     *store.Store
	registry  *session.Registry
	router    *dispatch.Router
	scheduler *dispatch.Scheduler
	sweeper   *store.Sweeper
	resolver  *replay.Resolver
	limiter   *ratelimit.Limiter

	clientEvents ClientEventHandler

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.transport == nil {
		return nil, ErrNoTransport
	}
	c.wireServices()
	c.bindHandlers()
	return c, nil
}

// wireServices initializes the internal services after options have been
// applied.
func (c *Courier) wireServices() {
	c.store = store.New(store.Config{
		MaxRetries: c.config.MaxRetries,
		MaxRecords: c.config.MaxRecords,
		BaseDelay:  c.config.BaseDelay,
		MaxDelay:   c.config.MaxDelay,
	})

	c.registry = session.NewRegistry(c.transport, c.logger)

	c.router = dispatch.NewRouter(c.store, c.transport, c.registry, c.metrics, c.tracer, c.logger)

	c.scheduler = dispatch.NewScheduler(c.store, c.router, dispatch.SchedulerConfig{
		Interval: c.config.SweepInterval,
		Metrics:  c.metrics,
		Tracer:   c.tracer,
	}, c.logger)

	c.sweeper = store.NewSweeper(c.store, store.SweeperConfig{
		Interval:  c.config.RetentionSweepInterval,
		Retention: c.config.Retention,
		Metrics:   c.metrics,
	}, c.logger)

	c.resolver = replay.NewResolver(c.store, c.router, c.registry, c.metrics, c.tracer, c.logger)

	c.limiter = ratelimit.New()
}

// Start begins the retry scheduler and the retention sweep.
func (c *Courier) Start(ctx context.Context) {
	c.scheduler.Start(ctx)
	c.sweeper.Start(ctx)
}

// Stop gracefully shuts down the background sweeps.
func (c *Courier) Stop(ctx context.Context) {
	c.scheduler.Stop(ctx)
	c.sweeper.Stop(ctx)
}

// Publish reliably delivers an event to matching terminals and returns
// its event ID. It returns immediately after fanout; acknowledgement,
// retry, and replay proceed asynchronously.
//
// Producers only ever call Publish; they never touch the store.
func (c *Courier) Publish(ctx context.Context, topic string, payload any, opts dispatch.Options) (id.ID, error) {
	if topic == "" {
		return id.Nil, ErrEmptyTopic
	}

	if c.catalog != nil {
		if err := c.catalog.CheckPublish(ctx, topic, payload); err != nil {
			return id.Nil, fmt.Errorf("courier: publish %s: %w", topic, err)
		}
	}

	return c.router.Publish(ctx, topic, payload, opts)
}

// Stats returns the event store's per-state counts.
func (c *Courier) Stats(ctx context.Context) store.Stats {
	return c.store.Stats(ctx)
}

// Store returns the underlying event record store.
func (c *Courier) Store() *store.Store {
	return c.store
}

// Sessions returns the terminal session registry.
func (c *Courier) Sessions() *session.Registry {
	return c.registry
}

// Catalog returns the topic catalog, if one was configured.
func (c *Courier) Catalog() *catalog.Catalog {
	return c.catalog
}
