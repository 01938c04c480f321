package intent

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushDrainFIFO(t *testing.T) {
	q := NewQueue("test", 10)

	for i := 0; i < 3; i++ {
		q.Push(fmt.Sprintf("key-%d", i), "v", time.Minute)
	}

	if q.Size() != 3 {
		t.Fatalf("expected size 3, got %d", q.Size())
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(drained))
	}
	for i, it := range drained {
		if want := fmt.Sprintf("key-%d", i); it.Key != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, it.Key)
		}
		if it.ID == "" {
			t.Fatal("expected intents to carry an ID")
		}
	}

	if q.Size() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Size())
	}
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	const max = 4
	q := NewQueue("test", max)

	for i := 0; i < 9; i++ {
		q.Push(fmt.Sprintf("key-%d", i), "v", 0)
	}

	drained := q.Drain()
	if len(drained) != max {
		t.Fatalf("expected %d intents after overflow, got %d", max, len(drained))
	}
	// The last min(N, max) pushes survive, still FIFO.
	for i, it := range drained {
		if want := fmt.Sprintf("key-%d", 9-max+i); it.Key != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, it.Key)
		}
	}
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := NewQueue("test", 2)
	if got := q.Drain(); len(got) != 0 {
		t.Fatalf("expected empty drain, got %d entries", len(got))
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	const max = 64
	q := NewQueue("test", max)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(fmt.Sprintf("w%d-%d", w, i), "v", 0)
			}
		}(w)
	}
	wg.Wait()

	if q.Size() != max {
		t.Fatalf("expected queue pinned at capacity %d, got %d", max, q.Size())
	}
}
