// Package catalog is the optional topic registry: known topic names,
// their payload schemas, and wildcard matching for subscriptions.
//
// The catalog is routing metadata only. It is held in memory alongside
// the event store and rebuilt by the host at startup.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tabflow/courier/internal/entity"
)

// Sentinel errors returned by catalog operations.
var (
	// ErrTopicNotFound is returned when a topic is not registered.
	ErrTopicNotFound = errors.New("catalog: topic not found")

	// ErrTopicDeprecated is returned when publishing to a deprecated topic.
	ErrTopicDeprecated = errors.New("catalog: topic is deprecated")

	// ErrPayloadValidationFailed is returned when a payload fails JSON
	// Schema validation.
	ErrPayloadValidationFailed = errors.New("catalog: payload validation failed")
)

// Definition describes a topic producers may publish.
type Definition struct {
	// Name is the colon-separated topic name (e.g. "order:created").
	Name string `json:"name"`

	// Description documents the topic for operators.
	Description string `json:"description,omitempty"`

	// Schema optionally holds a JSON Schema the payload must satisfy.
	Schema any `json:"schema,omitempty"`
}

// Topic is a registered topic definition.
type Topic struct {
	entity.Entity

	Definition Definition `json:"definition"`

	// IsDeprecated marks topics that may no longer be published.
	IsDeprecated bool       `json:"is_deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// clone returns a copy of the topic that callers can hold or mutate
// outside the catalog lock. The schema value is shared; it is treated as
// immutable once registered.
func (t *Topic) clone() *Topic {
	cp := *t
	if t.DeprecatedAt != nil {
		at := *t.DeprecatedAt
		cp.DeprecatedAt = &at
	}
	return &cp
}

// Catalog is an in-memory topic registry with payload validation.
// Topics are returned as copies so callers never mutate shared state.
type Catalog struct {
	mu        sync.RWMutex
	topics    map[string]*Topic
	validator *Validator
	logger    *slog.Logger
}

// New creates an empty catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		topics:    make(map[string]*Topic),
		validator: NewValidator(),
		logger:    logger,
	}
}

// Register creates or updates a topic definition (upsert by name).
func (c *Catalog) Register(ctx context.Context, def Definition) (*Topic, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("catalog: register: topic name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.topics[def.Name]; ok {
		existing.Definition = def
		existing.UpdatedAt = time.Now().UTC()
		return existing.clone(), nil
	}

	t := &Topic{Entity: entity.New(), Definition: def}
	c.topics[def.Name] = t

	c.logger.DebugContext(ctx, "topic registered", "topic", def.Name)
	return t.clone(), nil
}

// Get returns a copy of the topic by exact name.
func (c *Catalog) Get(_ context.Context, name string) (*Topic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.topics[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	return t.clone(), nil
}

// List returns copies of all registered topics sorted by name, excluding
// deprecated ones unless includeDeprecated is set.
func (c *Catalog) List(_ context.Context, includeDeprecated bool) []*Topic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Topic, 0, len(c.topics))
	for _, t := range c.topics {
		if t.IsDeprecated && !includeDeprecated {
			continue
		}
		out = append(out, t.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition.Name < out[j].Definition.Name
	})
	return out
}

// Deprecate soft-deletes a topic: existing records still deliver, but new
// publishes are rejected.
func (c *Catalog) Deprecate(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.topics[name]
	if !ok {
		return ErrTopicNotFound
	}

	now := time.Now().UTC()
	t.IsDeprecated = true
	t.DeprecatedAt = &now
	t.UpdatedAt = now
	return nil
}

// CheckPublish validates a publish against the catalog: the topic must be
// registered and not deprecated, and the payload must satisfy the topic's
// schema when one is defined.
func (c *Catalog) CheckPublish(ctx context.Context, topic string, payload any) error {
	t, err := c.Get(ctx, topic)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	if t.IsDeprecated {
		return fmt.Errorf("%w: %s", ErrTopicDeprecated, topic)
	}

	if t.Definition.Schema != nil {
		if validateErr := c.validator.Validate(t.Definition.Schema, payload); validateErr != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	return nil
}
