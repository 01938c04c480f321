// Package cache wraps a remote cache service (redis) with a circuit breaker
// and a bounded in-memory secondary store. While the remote cache is
// unreachable, reads degrade to the local copy (or an empty result) instead
// of failing, and writes are recorded as intents for best-effort replay.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskow/resilience-core/internal/breaker"
	"github.com/dskow/resilience-core/internal/intent"
	"github.com/dskow/resilience-core/internal/singleflight"
)

// RedisClient is the slice of the go-redis API the service depends on.
// *redis.Client satisfies it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Config tunes the secondary store and the write-intent queue.
type Config struct {
	// LocalCapacity bounds the in-memory secondary store. Default 1024.
	LocalCapacity int
	// LocalTTL is how long a secondary copy stays servable. Default 5m.
	LocalTTL time.Duration
	// IntentCapacity bounds the write-intent queue. Default 256.
	IntentCapacity int
}

func (c Config) withDefaults() Config {
	if c.LocalCapacity == 0 {
		c.LocalCapacity = 1024
	}
	if c.LocalTTL == 0 {
		c.LocalTTL = 5 * time.Minute
	}
	if c.IntentCapacity == 0 {
		c.IntentCapacity = 256
	}
	return c
}

// Service is the cache-protecting domain wrapper.
type Service struct {
	rdb     RedisClient
	cb      *breaker.CircuitBreaker
	local   *localStore
	intents *intent.Queue
	flight  *singleflight.Group
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a cache service guarded by cb. The service owns the local
// secondary store and the write-intent queue; the redis client is owned by
// the caller but closed via Close on shutdown.
func New(rdb RedisClient, cb *breaker.CircuitBreaker, cfg Config, logger *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		rdb:     rdb,
		cb:      cb,
		local:   newLocalStore(cfg.LocalCapacity),
		intents: intent.NewQueue(cb.Name(), cfg.IntentCapacity),
		flight:  singleflight.NewGroup(cb.Name()),
		ttl:     cfg.LocalTTL,
		logger:  logger,
	}
}

// Get reads key through the breaker. Concurrent reads of the same key are
// collapsed into one remote call. The result degrades in order: fresh remote
// value → local secondary copy → empty. ok is false only on the final,
// empty degradation; Get never returns an error to the caller.
func (s *Service) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.flight.Do(ctx, key, func(ctx context.Context) (any, error) {
		return s.cb.Do(ctx, s.remoteGet(key), s.localGet(key))
	})
	if err != nil {
		// The fallback path never errors, so this is unreachable in
		// practice; degrade to empty all the same.
		s.logger.Warn("cache read degraded to empty", "key", key, "error", err)
		return "", false
	}
	val, _ := v.(string)
	return val, val != ""
}

func (s *Service) remoteGet(key string) breaker.Operation {
	return func(ctx context.Context) (any, error) {
		val, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// A miss is a business outcome, not an infrastructure
				// failure.
				return "", nil
			}
			return nil, err
		}
		// Write-through so future fallbacks serve fresher data.
		s.local.set(key, val, s.ttl)
		return val, nil
	}
}

func (s *Service) localGet(key string) breaker.Operation {
	return func(ctx context.Context) (any, error) {
		if v, ok := s.local.get(key); ok {
			return v, nil
		}
		return "", nil
	}
}

// Set writes key through the breaker. While the write path is open (or the
// write fails with a system error), the write is recorded as an intent for
// later replay instead of being lost.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	// Reads served while the primary is down should still see this write.
	s.local.set(key, value, s.ttl)

	_, err := s.cb.Do(ctx,
		func(ctx context.Context) (any, error) {
			return nil, s.rdb.Set(ctx, key, value, ttl).Err()
		},
		func(ctx context.Context) (any, error) {
			it := s.intents.Push(key, value, ttl)
			s.logger.Debug("write recorded as intent", "key", key, "intent_id", it.ID)
			return nil, nil
		},
	)
	return err
}

// PendingWrites returns the number of intents awaiting replay.
func (s *Service) PendingWrites() int {
	return s.intents.Size()
}

// ReplayIntents drains the intent queue and re-attempts each write directly
// against the remote cache. Replay is best-effort: a write that fails again
// is re-queued and counted as skipped. Returns how many intents were
// replayed successfully.
func (s *Service) ReplayIntents(ctx context.Context) int {
	drained := s.intents.Drain()
	if len(drained) == 0 {
		return 0
	}

	replayed := 0
	for _, it := range drained {
		if err := s.rdb.Set(ctx, it.Key, it.Value, it.TTL).Err(); err != nil {
			s.logger.Warn("intent replay failed, re-queueing",
				"key", it.Key, "intent_id", it.ID, "error", err)
			s.intents.Push(it.Key, it.Value, it.TTL)
			continue
		}
		replayed++
	}

	s.logger.Info("write intents replayed",
		"replayed", replayed, "requeued", len(drained)-replayed)
	return replayed
}

// Breaker exposes the guarding breaker for registry and readiness wiring.
func (s *Service) Breaker() *breaker.CircuitBreaker {
	return s.cb
}

// Close releases the owned secondary resources (the redis connection).
func (s *Service) Close() error {
	return s.rdb.Close()
}
