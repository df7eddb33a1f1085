// Package dispatch fans reliable events out to matching connections and
// re-drives under-acknowledged records on an exponential backoff sweep.
package dispatch

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/observability"
	"github.com/tabflow/courier/session"
	"github.com/tabflow/courier/store"
	"github.com/tabflow/courier/transport"
)

// Options configures one publish.
type Options struct {
	// Scope restricts fanout to one location room. Empty broadcasts to all
	// connections.
	Scope string

	// Targets names terminal IDs that must all acknowledge before the
	// record counts as delivered. Targets that are currently connected are
	// also addressed directly, in addition to the room fanout.
	Targets []string

	// TargetRoles additionally fans the event out to each role room.
	TargetRoles []session.Role

	// ExcludeConnection skips one connection, so the terminal that
	// originated an event does not receive its own echo.
	ExcludeConnection string

	// MaxRetries overrides the store default when > 0.
	MaxRetries int
}

// Router decides which connections receive an event and wraps it with
// delivery metadata. The wrapped envelope is resent verbatim (same event
// ID, same timestamp) on retry and replay, so receivers de-duplicate by
// event ID alone.
type Router struct {
	store     *store.Store
	transport transport.Router
	registry  *session.Registry
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// NewRouter creates a fanout router.
func NewRouter(st *store.Store, tr transport.Router, reg *session.Registry, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     st,
		transport: tr,
		registry:  reg,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// Publish creates a record for the event, fans the wrapped envelope out to
// matching connections, and marks the record sent. It returns immediately
// after fanout; acknowledgement is tracked asynchronously.
func (r *Router) Publish(ctx context.Context, topic string, payload any, opts Options) (id.ID, error) {
	rec := r.store.Create(ctx, topic, payload, store.CreateOptions{
		Scope:      opts.Scope,
		Targets:    opts.Targets,
		Roles:      opts.TargetRoles,
		MaxRetries: opts.MaxRetries,
	})

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.StartPublishSpan(ctx, rec.ID.String(), topic, opts.Scope)
	}

	n := r.fanout(ctx, rec, opts.ExcludeConnection)
	r.store.MarkSent(ctx, rec.ID)

	if r.metrics != nil {
		r.metrics.EventsPublishedTotal.Inc()
		r.metrics.RecordDelivery("sent")
		r.metrics.FanoutSize.Observe(float64(n))
	}
	if span != nil {
		r.tracer.EndPublishSpan(span, n, "")
	}

	r.logger.DebugContext(ctx, "event published",
		"event_id", rec.ID,
		"topic", topic,
		"scope", opts.Scope,
		"fanout", n,
	)

	return rec.ID, nil
}

// Resend re-fans an existing record out using the same routing rule as
// the original publish (the record carries its scope, targets, and role
// rooms) and refreshes its sent timestamp. Only the origin exclusion is
// publish-time: a retry may legitimately reach the originator.
func (r *Router) Resend(ctx context.Context, rec *event.Record) {
	r.fanout(ctx, rec, "")
	r.store.MarkSent(ctx, rec.ID)
}

// SendToConn re-sends a record's envelope to a single connection. Used by
// replay, which addresses exactly the reconnecting terminal.
func (r *Router) SendToConn(ctx context.Context, connID string, rec *event.Record) error {
	return r.transport.ToConn(ctx, connID, rec.Topic, rec.Envelope())
}

// fanout sends the record's envelope to (a) the scope room, or all
// connections when unscoped; (b) each of the record's role rooms; (c)
// each connected target terminal directly. Transport failures are logged
// and otherwise ignored: the record stays sent, and the next retry sweep
// re-attempts it.
func (r *Router) fanout(ctx context.Context, rec *event.Record, exclude string) int {
	env := rec.Envelope()
	n := 0

	var excludes []string
	if exclude != "" {
		excludes = []string{exclude}
	}

	if rec.Scope != "" {
		if err := r.transport.ToRoom(ctx, session.LocationRoom(rec.Scope), rec.Topic, env, excludes...); err != nil {
			r.logger.WarnContext(ctx, "scope fanout failed",
				"event_id", rec.ID, "scope", rec.Scope, "error", err)
		} else {
			n++
		}
	} else {
		if err := r.transport.Broadcast(ctx, rec.Topic, env, excludes...); err != nil {
			r.logger.WarnContext(ctx, "broadcast fanout failed",
				"event_id", rec.ID, "error", err)
		} else {
			n++
		}
	}

	for _, role := range rec.Roles {
		if err := r.transport.ToRoom(ctx, session.RoleRoom(role), rec.Topic, env, excludes...); err != nil {
			r.logger.WarnContext(ctx, "role fanout failed",
				"event_id", rec.ID, "role", role, "error", err)
		} else {
			n++
		}
	}

	for _, target := range rec.Targets {
		sess, ok := r.registry.ByTerminal(target)
		if !ok {
			continue
		}
		if sess.ConnID == exclude {
			continue
		}
		if err := r.transport.ToConn(ctx, sess.ConnID, rec.Topic, env); err != nil {
			r.logger.WarnContext(ctx, "target fanout failed",
				"event_id", rec.ID, "terminal_id", target, "error", err)
		} else {
			n++
		}
	}

	return n
}
