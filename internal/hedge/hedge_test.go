package hedge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_FastPrimaryWinsWithoutHedge(t *testing.T) {
	var backupStarted atomic.Bool

	v, err := Do(context.Background(),
		func(ctx context.Context) (any, error) {
			return "primary", nil
		},
		func(ctx context.Context) (any, error) {
			backupStarted.Store(true)
			return "backup", nil
		},
		30*time.Millisecond,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "primary" {
		t.Fatalf("expected primary result, got %v", v)
	}

	// Give a slow hedge a chance to fire erroneously.
	time.Sleep(50 * time.Millisecond)
	if backupStarted.Load() {
		t.Fatal("backup must not start when primary settles within the delay")
	}
}

func TestDo_BackupWinsWhenPrimarySlow(t *testing.T) {
	v, err := Do(context.Background(),
		func(ctx context.Context) (any, error) {
			time.Sleep(200 * time.Millisecond)
			return "primary", nil
		},
		func(ctx context.Context) (any, error) {
			return "backup", nil
		},
		10*time.Millisecond,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "backup" {
		t.Fatalf("expected backup result, got %v", v)
	}
}

func TestDo_SlowPrimaryStillWinsIfFirst(t *testing.T) {
	v, err := Do(context.Background(),
		func(ctx context.Context) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return "primary", nil
		},
		func(ctx context.Context) (any, error) {
			time.Sleep(200 * time.Millisecond)
			return "backup", nil
		},
		10*time.Millisecond,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "primary" {
		t.Fatalf("expected primary to win the race, got %v", v)
	}
}

func TestDo_FirstSettledErrorWins(t *testing.T) {
	want := errors.New("connection refused")

	_, err := Do(context.Background(),
		func(ctx context.Context) (any, error) {
			time.Sleep(200 * time.Millisecond)
			return "primary", nil
		},
		func(ctx context.Context) (any, error) {
			return nil, want
		},
		5*time.Millisecond,
	)
	if !errors.Is(err, want) {
		t.Fatalf("expected backup error to win, got %v", err)
	}
}

func TestDo_DefaultDelay(t *testing.T) {
	start := time.Now()
	v, err := Do(context.Background(),
		func(ctx context.Context) (any, error) {
			return "primary", nil
		},
		func(ctx context.Context) (any, error) {
			return "backup", nil
		},
		0,
	)
	if err != nil || v != "primary" {
		t.Fatalf("expected immediate primary win, got %v / %v", v, err)
	}
	if elapsed := time.Since(start); elapsed > DefaultDelay {
		t.Fatalf("fast primary should settle before the default delay, took %v", elapsed)
	}
}
