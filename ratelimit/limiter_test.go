package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowZeroRateIsUnlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("conn_1", 0) {
			t.Fatal("zero rate throttled")
		}
	}
}

func TestAllowThrottlesPastBurst(t *testing.T) {
	l := New()

	// The bucket starts full at the rate limit.
	for i := 0; i < 5; i++ {
		if !l.Allow("conn_1", 5) {
			t.Fatalf("request %d within burst throttled", i+1)
		}
	}
	if l.Allow("conn_1", 5) {
		t.Fatal("request past burst allowed")
	}
}

func TestAllowIsPerConnection(t *testing.T) {
	l := New()

	for i := 0; i < 2; i++ {
		l.Allow("conn_1", 2)
	}
	if l.Allow("conn_1", 2) {
		t.Fatal("conn_1 past burst allowed")
	}
	if !l.Allow("conn_2", 2) {
		t.Fatal("conn_2 throttled by conn_1's bucket")
	}
}

func TestRefillOverTime(t *testing.T) {
	l := New()

	// Drain a fast bucket, then wait for refill.
	for l.Allow("conn_1", 100) {
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("conn_1", 100) {
		t.Fatal("bucket did not refill")
	}
}

func TestResetClearsBucket(t *testing.T) {
	l := New()

	for l.Allow("conn_1", 2) {
	}
	l.Reset("conn_1")
	if !l.Allow("conn_1", 2) {
		t.Fatal("reset bucket still throttled")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	l := New()
	for l.Allow("conn_1", 1) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "conn_1", 1); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
