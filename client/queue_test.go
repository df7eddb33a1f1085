package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueSendsImmediately(t *testing.T) {
	var sends atomic.Int64
	q := NewSendQueue(func(context.Context, string, any) error {
		sends.Add(1)
		return nil
	}, QueueConfig{}, nil)

	itemID, result := q.Enqueue(context.Background(), "order:created", map[string]any{"orderId": "ord_1"})
	if !strings.HasPrefix(itemID, "out_") {
		t.Errorf("item ID = %q, want out_ prefix", itemID)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("result = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("result never settled")
	}

	if sends.Load() != 1 {
		t.Errorf("sends = %d, want 1", sends.Load())
	}
	if st := q.Stats(); st.Acked != 1 {
		t.Errorf("stats = %+v, want 1 acked", st)
	}
}

func TestQueueRetriesWithBackoffUntilConfirmed(t *testing.T) {
	var attempts atomic.Int64
	q := NewSendQueue(func(context.Context, string, any) error {
		if attempts.Add(1) < 3 {
			return errors.New("offline")
		}
		return nil
	}, QueueConfig{
		BaseDelay:     time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop(ctx)

	_, result := q.Enqueue(ctx, "order:created", nil)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("result = %v, want nil after retries", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item never confirmed")
	}

	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestQueueFailsAfterRetryBudget(t *testing.T) {
	var attempts atomic.Int64
	q := NewSendQueue(func(context.Context, string, any) error {
		attempts.Add(1)
		return errors.New("offline")
	}, QueueConfig{
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop(ctx)

	_, result := q.Enqueue(ctx, "order:created", nil)

	select {
	case err := <-result:
		if !errors.Is(err, ErrSendFailed) {
			t.Fatalf("result = %v, want ErrSendFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item never settled")
	}

	// Initial attempt plus two retries.
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
	if st := q.Stats(); st.Failed != 1 {
		t.Errorf("stats = %+v, want 1 failed", st)
	}
}

func TestResetInFlightRestartsRetryBudget(t *testing.T) {
	var mu sync.Mutex
	failing := true
	q := NewSendQueue(func(context.Context, string, any) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("offline")
		}
		return nil
	}, QueueConfig{
		MaxRetries:    5,
		BaseDelay:     time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop(ctx)

	_, result := q.Enqueue(ctx, "order:created", nil)

	waitFor(t, 2*time.Second, func() bool {
		st := q.Stats()
		return st.Pending+st.Sent == 1
	})

	// Reconnect: the item goes back to pending with a fresh budget and the
	// link comes back.
	if n := q.ResetInFlight(); n != 1 {
		t.Fatalf("reset %d items, want 1", n)
	}
	mu.Lock()
	failing = false
	mu.Unlock()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("result = %v, want nil after reconnect", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item never confirmed after reset")
	}
}

func TestQueueCleansUpSettledItems(t *testing.T) {
	q := NewSendQueue(func(context.Context, string, any) error {
		return nil
	}, QueueConfig{SweepInterval: 10 * time.Millisecond}, nil)

	ctx := context.Background()
	_, result := q.Enqueue(ctx, "order:created", nil)
	<-result

	// Settled items linger for the TTL, then the sweep drops them. Force
	// the age instead of waiting a minute.
	q.mu.Lock()
	for _, item := range q.order {
		item.settledAt = time.Now().UTC().Add(-2 * settledTTL)
	}
	q.mu.Unlock()

	q.Start(ctx)
	defer q.Stop(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return q.Len() == 0
	})
}
