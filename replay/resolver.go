// Package replay answers "what have I missed since X" queries from
// reconnecting terminals.
//
// Replay is a long-poll-style catch-up, not a durable log: a terminal
// absent longer than the retention window silently misses events and must
// fall back to a full state resync, which is owned by the host services.
package replay

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tabflow/courier/dispatch"
	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/observability"
	"github.com/tabflow/courier/session"
	"github.com/tabflow/courier/store"
)

// Resolver re-sends missed records to a single reconnecting connection.
type Resolver struct {
	store    *store.Store
	router   *dispatch.Router
	registry *session.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
}

// NewResolver creates a replay resolver.
func NewResolver(st *store.Store, router *dispatch.Router, reg *session.Registry, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    st,
		router:   router,
		registry: reg,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}
}

// Replay resolves the terminal's cursor, collects every non-failed record
// it has missed that matches its scope, and re-sends each envelope to the
// requesting connection only. Replay never touches retry counters. Both
// cursor fields are optional; a zero cursor replays the full retained
// window.
func (r *Resolver) Replay(ctx context.Context, terminalID, connID string, since event.Cursor) ([]event.ReplaySummary, error) {
	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.StartReplaySpan(ctx, terminalID)
	}

	scope := ""
	if ident, ok := r.registry.Identity(terminalID); ok {
		scope = ident.LocationID
	}

	candidates := r.store.ReplayCandidates(ctx, terminalID, since, scope)

	replayed := make([]event.ReplaySummary, 0, len(candidates))
	for _, rec := range candidates {
		if err := r.router.SendToConn(ctx, connID, rec); err != nil {
			r.logger.WarnContext(ctx, "replay send failed",
				"event_id", rec.ID, "terminal_id", terminalID, "error", err)
			continue
		}
		replayed = append(replayed, event.ReplaySummary{
			EventID:   rec.ID.String(),
			Type:      rec.Topic,
			Timestamp: rec.CreatedAt.UnixMilli(),
		})
	}

	if r.metrics != nil && len(replayed) > 0 {
		r.metrics.ReplayedTotal.Add(float64(len(replayed)))
	}
	if span != nil {
		r.tracer.EndReplaySpan(span, len(replayed))
	}

	r.logger.DebugContext(ctx, "replay completed",
		"terminal_id", terminalID,
		"candidates", len(candidates),
		"replayed", len(replayed),
	)

	return replayed, nil
}
