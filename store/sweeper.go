package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tabflow/courier/observability"
)

// SweeperConfig holds retention sweep configuration.
type SweeperConfig struct {
	// Interval is how often the sweep runs.
	Interval time.Duration

	// Retention is the maximum record age; older records are deleted
	// regardless of delivery state.
	Retention time.Duration

	// Metrics optionally records eviction counts.
	Metrics *observability.Metrics
}

// Sweeper periodically deletes records past the retention window.
type Sweeper struct {
	store  *Store
	config SweeperConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a retention sweeper for the store.
func NewSweeper(store *Store, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Sweeper{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Start begins the background sweep loop.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		sw.loop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (sw *Sweeper) Stop(_ context.Context) {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
}

func (sw *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := sw.store.EvictExpired(ctx, sw.config.Retention)
			if evicted == 0 {
				continue
			}

			if sw.config.Metrics != nil {
				sw.config.Metrics.EvictedTotal.Add(float64(evicted))
			}
			sw.logger.DebugContext(ctx, "retention sweep evicted records",
				"evicted", evicted,
				"retention", sw.config.Retention,
			)
		}
	}
}
