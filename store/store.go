// Package store implements the in-memory event record store: every
// outbound event with its delivery state, the terminal cursors keyed to
// it, and the retention machinery that bounds both.
//
// The store is deliberately not durable. Terminals that miss an evicted
// record have already exceeded the retention window and must resynchronize
// out-of-band rather than via replay.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/internal/entity"
	"github.com/tabflow/courier/session"
)

// ErrNotFound is returned when an event record is not in the store
// (never created, or already evicted).
var ErrNotFound = errors.New("store: event record not found")

// Config bounds the store and parameterizes its retry arithmetic.
type Config struct {
	// MaxRetries is the default retry budget for new records.
	MaxRetries int

	// MaxRecords caps the store size. Exceeding it evicts the oldest 10%.
	MaxRecords int

	// BaseDelay and MaxDelay bound the exponential retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		MaxRecords: 10000,
		BaseDelay:  event.DefaultBaseDelay,
		MaxDelay:   event.DefaultMaxDelay,
	}
}

// CreateOptions configures a new event record.
type CreateOptions struct {
	// Scope restricts fanout to one location. Empty means global broadcast.
	Scope string

	// Targets names the terminal IDs that must all acknowledge the record
	// before it counts as delivered. Empty means broadcast semantics.
	Targets []string

	// Roles names role rooms the record additionally fans out to, on the
	// original publish and on every retry.
	Roles []session.Role

	// MaxRetries overrides the store default when > 0.
	MaxRetries int
}

// Stats summarizes the store by delivery state.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Store holds event records and terminal cursors behind a single lock.
// All methods are safe for concurrent use; records are returned as copies
// so callers never mutate shared state.
type Store struct {
	mu sync.RWMutex

	config Config

	records map[string]*event.Record // keyed by ID string

	// order holds records in creation order. Records are only ever created
	// with the current time, so append order is createdAt order; eviction
	// trims from the front.
	order []*event.Record

	cursors map[string]event.Cursor // keyed by terminal ID
}

// New creates an empty store. Zero config fields fall back to defaults.
func New(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = def.MaxRecords
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}

	return &Store{
		config:  cfg,
		records: make(map[string]*event.Record),
		cursors: make(map[string]event.Cursor),
	}
}

// ──────────────────────────────────────────────────
// Record lifecycle
// ──────────────────────────────────────────────────

// Create assigns an ID and stores a new pending record. If the store is
// over capacity afterwards, the oldest 10% of records are evicted first.
func (s *Store) Create(_ context.Context, topic string, payload any, opts CreateOptions) *event.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.MaxRetries
	}

	rec := &event.Record{
		Entity:     entity.New(),
		ID:         id.NewEventID(),
		Topic:      topic,
		Payload:    payload,
		Scope:      opts.Scope,
		Targets:    append([]string(nil), opts.Targets...),
		Roles:      append([]session.Role(nil), opts.Roles...),
		State:      event.StatePending,
		MaxRetries: maxRetries,
		AckedBy:    make(map[string]struct{}),
	}

	s.records[rec.ID.String()] = rec
	s.order = append(s.order, rec)

	if len(s.records) > s.config.MaxRecords {
		s.evictOldestLocked(len(s.records) / 10)
	}

	return rec.Clone()
}

// Get returns a copy of the record, or ErrNotFound.
func (s *Store) Get(_ context.Context, evtID id.ID) (*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[evtID.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// MarkSent records a fanout attempt: pending records transition to sent,
// and SentAt is refreshed on every attempt so the backoff window is
// measured from the most recent send. Delivered and failed records are
// left untouched.
func (s *Store) MarkSent(_ context.Context, evtID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evtID.String()]
	if !ok {
		return
	}

	switch rec.State {
	case event.StatePending, event.StateSent:
		now := time.Now().UTC()
		rec.State = event.StateSent
		rec.SentAt = &now
		rec.UpdatedAt = now
	case event.StateDelivered, event.StateFailed:
		// terminal states
	}
}

// Acknowledge adds the terminal to the record's acked set and advances the
// terminal's cursor. Broadcast records (no targets) become delivered on the
// first ack; targeted records once every target has acked.
//
// Returns false when the event ID is unknown: already evicted, or the
// server restarted. Callers log that but treat it as non-fatal.
func (s *Store) Acknowledge(_ context.Context, evtID id.ID, terminalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evtID.String()]
	if !ok {
		return false
	}

	if rec.AckedBy == nil {
		rec.AckedBy = make(map[string]struct{})
	}
	rec.AckedBy[terminalID] = struct{}{}

	s.advanceCursorLocked(terminalID, rec)

	if rec.State == event.StateDelivered || rec.State == event.StateFailed {
		return true
	}

	if s.ackComplete(rec) {
		now := time.Now().UTC()
		rec.State = event.StateDelivered
		rec.DeliveredAt = &now
		rec.UpdatedAt = now
	}

	return true
}

// ackComplete reports whether the record's delivery condition is met:
// any ack for broadcast records, all targets for targeted records.
func (s *Store) ackComplete(rec *event.Record) bool {
	if len(rec.Targets) == 0 {
		return len(rec.AckedBy) > 0
	}

	for _, target := range rec.Targets {
		if _, acked := rec.AckedBy[target]; !acked {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Retry
// ──────────────────────────────────────────────────

// DueForRetry returns copies of every sent record whose retry budget is
// not exhausted and whose backoff window since the last send has elapsed,
// oldest first.
func (s *Store) DueForRetry(_ context.Context) []*event.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var due []*event.Record

	for _, rec := range s.order {
		if rec.State != event.StateSent {
			continue
		}
		if rec.RetryCount >= rec.MaxRetries {
			continue
		}
		if rec.SentAt == nil {
			continue
		}

		wait := event.Backoff(rec.RetryCount, s.config.BaseDelay, s.config.MaxDelay)
		if now.Sub(*rec.SentAt) <= wait {
			continue
		}

		due = append(due, rec.Clone())
	}

	return due
}

// IncrementRetry bumps the record's retry count, transitioning it to
// failed once the budget is exhausted. This is the only path that
// increases RetryCount; replay never does.
func (s *Store) IncrementRetry(_ context.Context, evtID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evtID.String()]
	if !ok {
		return
	}
	if rec.State != event.StateSent {
		return
	}

	rec.RetryCount++
	rec.UpdatedAt = time.Now().UTC()

	if rec.RetryCount >= rec.MaxRetries {
		rec.State = event.StateFailed
	}
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

// ReplayCandidates answers "what has this terminal missed since the given
// cursor": every non-failed record newer than the cursor that the terminal
// has not acknowledged and whose scope matches, ascending by creation time.
//
// The since timestamp resolves from the cursor's event ID when that record
// is still present, falling back to the cursor's raw timestamp, falling
// back to zero (full window).
func (s *Store) ReplayCandidates(_ context.Context, terminalID string, since event.Cursor, scope string) []*event.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sinceTS := since.LastTimestamp
	if since.LastEventID != "" {
		if ref, ok := s.records[since.LastEventID]; ok {
			sinceTS = ref.CreatedAt.UnixMilli()
		}
	}

	var out []*event.Record
	for _, rec := range s.order {
		if rec.CreatedAt.UnixMilli() <= sinceTS {
			continue
		}
		if rec.State == event.StateFailed {
			continue
		}
		if rec.AckedByTerminal(terminalID) {
			continue
		}
		if rec.Scope != "" && rec.Scope != scope {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// ──────────────────────────────────────────────────
// Cursors
// ──────────────────────────────────────────────────

// Cursor returns the terminal's delivery watermark, if any.
func (s *Store) Cursor(terminalID string) (event.Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[terminalID]
	return c, ok
}

// MarkSeen manually advances a terminal's cursor to the given record,
// without acknowledging it. Unknown event IDs are ignored.
func (s *Store) MarkSeen(_ context.Context, terminalID string, evtID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[evtID.String()]
	if !ok {
		return
	}
	s.advanceCursorLocked(terminalID, rec)
}

// advanceCursorLocked moves the terminal's cursor forward to the record.
// Cursors only advance: an ack for an older event must not rewind the
// watermark past events the terminal has already seen.
func (s *Store) advanceCursorLocked(terminalID string, rec *event.Record) {
	ts := rec.CreatedAt.UnixMilli()
	if cur, ok := s.cursors[terminalID]; ok && cur.LastTimestamp >= ts {
		return
	}
	s.cursors[terminalID] = event.Cursor{
		LastEventID:   rec.ID.String(),
		LastTimestamp: ts,
	}
}

// ──────────────────────────────────────────────────
// Retention
// ──────────────────────────────────────────────────

// EvictExpired deletes records older than the retention window regardless
// of state, returning the number removed. Best-effort memory management,
// not correctness-critical.
func (s *Store) EvictExpired(_ context.Context, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)

	n := 0
	for n < len(s.order) && s.order[n].CreatedAt.Before(cutoff) {
		delete(s.records, s.order[n].ID.String())
		n++
	}
	s.order = s.order[n:]

	return n
}

// evictOldestLocked removes the n oldest records by creation time.
func (s *Store) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	if n > len(s.order) {
		n = len(s.order)
	}

	for _, rec := range s.order[:n] {
		delete(s.records, rec.ID.String())
	}
	s.order = s.order[n:]
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats counts records by delivery state.
func (s *Store) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.records)}
	for _, rec := range s.records {
		switch rec.State {
		case event.StatePending:
			st.Pending++
		case event.StateSent:
			st.Sent++
		case event.StateDelivered:
			st.Delivered++
		case event.StateFailed:
			st.Failed++
		}
	}
	return st
}
