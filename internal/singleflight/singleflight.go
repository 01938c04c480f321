// Package singleflight deduplicates concurrent identical in-flight calls so
// a cache-miss storm issues one downstream request instead of hundreds.
package singleflight

import (
	"context"

	sf "golang.org/x/sync/singleflight"

	"github.com/dskow/resilience-core/internal/metrics"
)

// Group collapses concurrent calls that share a key onto one execution.
// The zero value is not usable; construct with NewGroup.
type Group struct {
	name string
	g    sf.Group
}

// NewGroup creates a named group. The name labels dedup metrics.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// Do runs fn once per key at a time. Concurrent callers with the same key
// receive the same result and error. The key is forgotten once the call
// settles, so a later call with the same key executes fresh.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err, shared := g.g.Do(key, func() (any, error) {
		return fn(ctx)
	})
	if shared {
		metrics.DedupHits.WithLabelValues(g.name).Inc()
	}
	return v, err
}

// Forget drops any in-flight record for key so the next Do executes fn even
// if an earlier call is still running.
func (g *Group) Forget(key string) {
	g.g.Forget(key)
}
