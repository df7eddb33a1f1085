// Package event defines the domain types shared by both sides of the
// reliable delivery protocol: the server-side event record with its
// delivery state machine, the wire envelope, terminal cursors, and the
// retry backoff schedule.
package event

import (
	"time"

	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/internal/entity"
	"github.com/tabflow/courier/session"
)

// State represents the current delivery state of an event record.
type State string

const (
	// StatePending indicates the record was created but not yet fanned out.
	StatePending State = "pending"

	// StateSent indicates the record was fanned out and is awaiting acknowledgement.
	StateSent State = "sent"

	// StateDelivered indicates the record was acknowledged (by at least one
	// terminal for broadcast records, by every target for targeted records).
	StateDelivered State = "delivered"

	// StateFailed indicates the record exhausted its retries without being
	// delivered. Failed records are never re-sent, not even during replay.
	StateFailed State = "failed"
)

// Record is the unit of reliable delivery: one outbound event together
// with its delivery bookkeeping.
type Record struct {
	entity.Entity

	// ID is the unique TypeID for this event. It is embedded verbatim in
	// every envelope carrying the event, so receivers can de-duplicate
	// retries and replays by ID alone.
	ID id.ID `json:"id"`

	// Topic is the event type name (e.g. "order:created"). Consumers
	// subscribe by topic; on the wire the topic is the socket event name.
	Topic string `json:"topic"`

	// Payload is the event body. Immutable once the record is created.
	Payload any `json:"payload"`

	// Scope optionally restricts fanout to one location room.
	// Empty scope means global broadcast.
	Scope string `json:"scope,omitempty"`

	// Targets optionally names the terminal IDs that must acknowledge this
	// event. When set, the record is delivered only once every target has
	// acked. When empty the record has broadcast semantics: delivered means
	// seen by at least one consumer, not by all.
	Targets []string `json:"targets,omitempty"`

	// Roles optionally names role rooms the event additionally fans out to.
	// Persisted on the record so retries reach the same audience as the
	// original publish.
	Roles []session.Role `json:"roles,omitempty"`

	// State is the current delivery state.
	State State `json:"state"`

	// RetryCount is the number of retry sweeps that have re-sent this record.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the retry budget before the record transitions to failed.
	MaxRetries int `json:"max_retries"`

	// AckedBy is the set of terminal IDs that have acknowledged this record.
	// Membership is append-only; it never shrinks.
	AckedBy map[string]struct{} `json:"acked_by,omitempty"`

	// SentAt is when the record was last fanned out. Refreshed on every
	// send attempt so backoff windows grow from the most recent attempt.
	SentAt *time.Time `json:"sent_at,omitempty"`

	// DeliveredAt is when the record transitioned to delivered.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// AckedByTerminal reports whether the given terminal has acknowledged
// this record.
func (r *Record) AckedByTerminal(terminalID string) bool {
	_, ok := r.AckedBy[terminalID]
	return ok
}

// Envelope wraps the record for the wire. The same envelope (same event
// ID, same timestamp) is re-sent verbatim on retry and replay.
func (r *Record) Envelope() *Envelope {
	return &Envelope{
		EventID:     r.ID.String(),
		Type:        r.Topic,
		Payload:     r.Payload,
		Timestamp:   r.CreatedAt.UnixMilli(),
		RequiresAck: true,
	}
}

// Clone returns a copy of the record that callers can inspect or mutate
// without holding the store lock. AckedBy, Targets, and Roles are copied
// deeply.
func (r *Record) Clone() *Record {
	cp := *r

	if r.AckedBy != nil {
		cp.AckedBy = make(map[string]struct{}, len(r.AckedBy))
		for t := range r.AckedBy {
			cp.AckedBy[t] = struct{}{}
		}
	}

	if r.Targets != nil {
		cp.Targets = append([]string(nil), r.Targets...)
	}

	if r.Roles != nil {
		cp.Roles = append([]session.Role(nil), r.Roles...)
	}

	return &cp
}

// Cursor is a terminal's delivery watermark: the last event it has seen
// and that event's creation timestamp in milliseconds. Cursors are the
// join key between a terminal's history and the event record store, and
// they outlive individual connections.
type Cursor struct {
	LastEventID   string `json:"lastEventId,omitempty"`
	LastTimestamp int64  `json:"lastTimestamp,omitempty"`
}
