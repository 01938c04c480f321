package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenBucket_StartsFull(t *testing.T) {
	tb := New(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.TryConsume() {
			t.Fatalf("expected token %d to be available", i+1)
		}
	}
	if tb.TryConsume() {
		t.Fatal("expected empty bucket to deny")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	// 50 tokens/sec → one token roughly every 20ms.
	tb := New(1, 50)

	if !tb.TryConsume() {
		t.Fatal("expected initial token")
	}
	if tb.TryConsume() {
		t.Fatal("expected denial right after draining")
	}

	time.Sleep(40 * time.Millisecond)
	if !tb.TryConsume() {
		t.Fatal("expected a refilled token after waiting")
	}
}

func TestTokenBucket_ResetRefillsToCapacity(t *testing.T) {
	tb := New(2, 0.1) // slow refill so only Reset can restore tokens

	tb.TryConsume()
	tb.TryConsume()
	if tb.TryConsume() {
		t.Fatal("expected empty bucket")
	}

	tb.Reset()
	for i := 0; i < 2; i++ {
		if !tb.TryConsume() {
			t.Fatalf("expected token %d after reset", i+1)
		}
	}
	if tb.TryConsume() {
		t.Fatal("expected denial after consuming reset capacity")
	}
}

// Over any interval the number of successful consumes must not exceed
// capacity + elapsed×refillPerSecond.
func TestTokenBucket_BoundedConsumption(t *testing.T) {
	const capacity = 5
	const refillPerSec = 100.0

	tb := New(capacity, refillPerSec)

	var granted atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(100 * time.Millisecond)
			for time.Now().Before(deadline) {
				if tb.TryConsume() {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	limit := int64(capacity) + int64(elapsed*refillPerSec) + 1 // +1 for timing slop
	if got := granted.Load(); got > limit {
		t.Fatalf("granted %d tokens, bound is %d over %.3fs", got, limit, elapsed)
	}
}

func TestTokenBucket_Capacity(t *testing.T) {
	tb := New(7, 1)
	if tb.Capacity() != 7 {
		t.Fatalf("expected capacity 7, got %d", tb.Capacity())
	}
	if tb.Available() < 6.9 {
		t.Fatalf("expected a full bucket, got %f", tb.Available())
	}
}
