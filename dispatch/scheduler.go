package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/observability"
	"github.com/tabflow/courier/store"
)

// DefaultSweepInterval is how often the retry scheduler scans for
// under-acknowledged records.
const DefaultSweepInterval = 5 * time.Second

// SchedulerConfig holds retry scheduler configuration.
type SchedulerConfig struct {
	// Interval is the sweep period.
	Interval time.Duration

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Scheduler periodically re-sends sent-but-unacknowledged records whose
// backoff window has elapsed. It is the only path that increments a
// record's retry count; replay never does.
//
// Sweeps race with inbound acks on the same records. Acks win: a retry
// sent just after delivery is harmless because receivers drop duplicates.
type Scheduler struct {
	store  *store.Store
	router *Router
	config SchedulerConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a retry scheduler.
func NewScheduler(st *store.Store, router *Router, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	return &Scheduler{
		store:  st,
		router: router,
		config: cfg,
		logger: logger,
	}
}

// Start begins the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for the in-flight sweep to finish.
func (s *Scheduler) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep re-sends every due record through the router's fanout path, then
// increments its retry count.
func (s *Scheduler) sweep(ctx context.Context) {
	var span trace.Span
	if s.config.Tracer != nil {
		ctx, span = s.config.Tracer.StartRetrySpan(ctx)
	}

	due := s.store.DueForRetry(ctx)

	for _, rec := range due {
		select {
		case <-ctx.Done():
			if span != nil {
				s.config.Tracer.EndRetrySpan(span, 0)
			}
			return
		default:
		}

		s.router.Resend(ctx, rec)
		s.store.IncrementRetry(ctx, rec.ID)

		if s.config.Metrics != nil {
			s.config.Metrics.RecordDelivery("retried")
		}

		after, err := s.store.Get(ctx, rec.ID)
		if err == nil && after.State == event.StateFailed {
			if s.config.Metrics != nil {
				s.config.Metrics.RecordDelivery("failed")
			}
			s.logger.WarnContext(ctx, "event exhausted retries",
				"event_id", rec.ID,
				"topic", rec.Topic,
				"retry_count", after.RetryCount,
			)
		}
	}

	if s.config.Metrics != nil {
		stats := s.store.Stats(ctx)
		s.config.Metrics.PendingEvents.Set(float64(stats.Pending + stats.Sent))
		s.config.Metrics.FailedEvents.Set(float64(stats.Failed))
	}

	if span != nil {
		s.config.Tracer.EndRetrySpan(span, len(due))
	}

	if len(due) > 0 {
		s.logger.DebugContext(ctx, "retry sweep re-sent records", "resent", len(due))
	}
}
