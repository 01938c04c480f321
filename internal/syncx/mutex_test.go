package syncx

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
)

func TestMutex_Serializes(t *testing.T) {
	m := NewMutex(slog.Default())

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RunExclusive(func() error {
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if counter != workers*100 {
		t.Fatalf("expected %d increments, got %d", workers*100, counter)
	}
}

func TestMutex_ReturnsError(t *testing.T) {
	m := NewMutex(slog.Default())
	want := errors.New("transition rejected")

	if err := m.RunExclusive(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestMutex_RecoversPanicAndStaysUsable(t *testing.T) {
	m := NewMutex(slog.Default())

	err := m.RunExclusive(func() error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected an error from a panicking section")
	}

	// The lock must still be usable after the panic.
	if err := m.RunExclusive(func() error { return nil }); err != nil {
		t.Fatalf("expected lock to stay usable after panic, got %v", err)
	}
}
