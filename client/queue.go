package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/id"
)

const (
	// queueSweepInterval is how often the send queue retries pending items.
	queueSweepInterval = 5 * time.Second

	// settledTTL is how long acked and failed items linger before cleanup.
	settledTTL = 60 * time.Second

	// sendTimeout bounds one send attempt.
	sendTimeout = 10 * time.Second

	defaultQueueMaxRetries = 5
)

// ErrSendFailed settles an item that exhausted its retry budget.
var ErrSendFailed = errors.New("client: send retries exhausted")

// SendFunc performs one send attempt. A nil return means the server
// confirmed receipt; anything else leaves the item queued for retry.
type SendFunc func(ctx context.Context, topic string, payload any) error

// ItemState is a send queue item's lifecycle state.
type ItemState string

const (
	// ItemPending means the item is waiting for its (next) send attempt.
	ItemPending ItemState = "pending"

	// ItemSent means a send attempt is in flight.
	ItemSent ItemState = "sent"

	// ItemAcked means the server confirmed receipt.
	ItemAcked ItemState = "acked"

	// ItemFailed means the item exhausted its retries.
	ItemFailed ItemState = "failed"
)

type queueItem struct {
	id         string
	topic      string
	payload    any
	state      ItemState
	retryCount int
	maxRetries int

	createdAt   time.Time
	lastAttempt time.Time
	settledAt   time.Time

	result chan error
}

func (it *queueItem) settle(state ItemState, err error) {
	it.state = state
	it.settledAt = time.Now().UTC()
	select {
	case it.result <- err:
	default:
	}
}

// QueueConfig configures a SendQueue. Zero values fall back to the
// defaults shared with the server's retry schedule.
type QueueConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	SweepInterval time.Duration
}

// QueueStats reports the send queue's per-state item counts.
type QueueStats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Acked   int `json:"acked"`
	Failed  int `json:"failed"`
}

// SendQueue holds events the terminal originates until the server
// confirms them. Items survive disconnects: on reconnect in-flight items
// are reset and re-attempted from scratch, and the server de-duplicates
// nothing here; callers that need idempotency carry their own request
// IDs in the payload.
type SendQueue struct {
	mu    sync.Mutex
	send  SendFunc
	items map[string]*queueItem
	order []*queueItem

	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	sweepInterval time.Duration

	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSendQueue creates a send queue that delivers through send.
func NewSendQueue(send SendFunc, cfg QueueConfig, logger *slog.Logger) *SendQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultQueueMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = event.DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = event.DefaultMaxDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = queueSweepInterval
	}

	return &SendQueue{
		send:          send,
		items:         make(map[string]*queueItem),
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.BaseDelay,
		maxDelay:      cfg.MaxDelay,
		sweepInterval: cfg.SweepInterval,
		logger:        logger,
	}
}

// Enqueue queues an event and starts its first send attempt immediately.
// It returns the local item ID and a channel that receives the terminal
// outcome: nil once the server confirms, ErrSendFailed if retries run out.
func (q *SendQueue) Enqueue(_ context.Context, topic string, payload any) (string, <-chan error) {
	item := &queueItem{
		id:         id.NewOutboundID().String(),
		topic:      topic,
		payload:    payload,
		state:      ItemPending,
		maxRetries: q.maxRetries,
		createdAt:  time.Now().UTC(),
		result:     make(chan error, 1),
	}

	q.mu.Lock()
	q.items[item.id] = item
	q.order = append(q.order, item)
	q.mu.Unlock()

	go q.attempt(item, false)

	return item.id, item.result
}

// attempt performs one send. retry attempts consume the retry budget;
// the initial attempt does not.
func (q *SendQueue) attempt(item *queueItem, retry bool) {
	q.mu.Lock()
	if item.state != ItemPending {
		q.mu.Unlock()
		return
	}
	item.state = ItemSent
	item.lastAttempt = time.Now().UTC()
	topic, payload := item.topic, item.payload
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := q.send(ctx, topic, payload)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	// A reconnect reset may have raced the attempt; its outcome no longer
	// applies.
	if item.state != ItemSent {
		return
	}

	if err == nil {
		item.settle(ItemAcked, nil)
		return
	}

	if retry {
		item.retryCount++
		if item.retryCount >= item.maxRetries {
			q.logger.Warn("send queue item exhausted retries",
				"item_id", item.id, "topic", item.topic, "retries", item.retryCount)
			item.settle(ItemFailed, ErrSendFailed)
			return
		}
	}

	item.state = ItemPending
	q.logger.Debug("send attempt failed",
		"item_id", item.id, "topic", item.topic, "retry_count", item.retryCount, "error", err)
}

// Start begins the retry sweep loop.
func (q *SendQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.sweep()
			}
		}
	}()
}

// Stop halts the retry sweep loop.
func (q *SendQueue) Stop(context.Context) {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// sweep retries due pending items and drops settled ones past their TTL.
func (q *SendQueue) sweep() {
	now := time.Now().UTC()

	q.mu.Lock()
	due := make([]*queueItem, 0)
	kept := q.order[:0]
	for _, item := range q.order {
		switch item.state {
		case ItemAcked, ItemFailed:
			if now.Sub(item.settledAt) >= settledTTL {
				delete(q.items, item.id)
				continue
			}
		case ItemPending:
			if item.retryCount < item.maxRetries &&
				now.Sub(item.lastAttempt) >= event.Backoff(item.retryCount, q.baseDelay, q.maxDelay) {
				due = append(due, item)
			}
		}
		kept = append(kept, item)
	}
	q.order = kept
	q.mu.Unlock()

	for _, item := range due {
		go q.attempt(item, true)
	}
}

// ResetInFlight returns every unsettled item to pending with a fresh
// retry budget. Called after a reconnect: whatever was in flight when the
// connection dropped may or may not have arrived, so it is re-sent.
func (q *SendQueue) ResetInFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, item := range q.order {
		if item.state == ItemPending || item.state == ItemSent {
			item.state = ItemPending
			item.retryCount = 0
			item.lastAttempt = time.Time{}
			n++
		}
	}
	return n
}

// Stats returns per-state item counts.
func (q *SendQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, item := range q.order {
		switch item.state {
		case ItemPending:
			s.Pending++
		case ItemSent:
			s.Sent++
		case ItemAcked:
			s.Acked++
		case ItemFailed:
			s.Failed++
		}
	}
	return s
}

// Len returns the number of items currently held, settled included.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
