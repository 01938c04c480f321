// Package integration wires the full stack together in-process: real
// breakers, a real go-redis client pointed at an unreachable address, the
// probe endpoints and the metrics handler. No external services are needed;
// the unreachable redis plays the part of the failing dependency.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskow/resilience-core/internal/breaker"
	"github.com/dskow/resilience-core/internal/cache"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/partner"
	"github.com/dskow/resilience-core/internal/readiness"
)

func init() {
	metrics.Init()
}

// newStack builds the service surface around a cache breaker whose redis is
// unreachable, mirroring the production wiring in cmd/resilienced.
func newStack(t *testing.T) (*cache.Service, *breaker.Registry, *httptest.Server) {
	t.Helper()
	logger := slog.Default()

	cacheCB, err := breaker.New("cache-redis", breaker.Options{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Second,
		OperationTimeout: 2 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("creating cache breaker: %v", err)
	}

	registry := breaker.NewRegistry()
	registry.Register("cache-redis", cacheCB)

	// Port 1 is never listening; every command fails fast with a dial error.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	svc := cache.New(rdb, cacheCB, cache.Config{}, logger)
	t.Cleanup(func() { svc.Close() })

	mux := http.NewServeMux()
	readiness.New(registry, []string{"127.0.0.0/8"}, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return svc, registry, srv
}

func TestStack_DegradedCacheFlipsReadiness(t *testing.T) {
	svc, _, srv := newStack(t)
	ctx := context.Background()

	resp, body := httpGet(t, srv.URL+"/health")
	assertStatusCode(t, resp, http.StatusOK)
	assertBodyContains(t, body, "ok")

	resp, _ = httpGet(t, srv.URL+"/ready")
	assertStatusCode(t, resp, http.StatusOK)

	// Two failing reads trip the cache breaker.
	svc.Get(ctx, "nav:fund-1")
	svc.Get(ctx, "nav:fund-1")
	if svc.Breaker().State() != breaker.StateOpen {
		t.Fatalf("expected open cache breaker, got %v", svc.Breaker().State())
	}

	resp, body = httpGet(t, srv.URL+"/ready")
	assertStatusCode(t, resp, http.StatusServiceUnavailable)
	m := parseJSON(t, body)
	if m["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", m["status"])
	}
}

func TestStack_ReadsAndWritesSurviveOutage(t *testing.T) {
	svc, _, _ := newStack(t)
	ctx := context.Background()

	// Writes during the outage land in the local store and the intent queue.
	if err := svc.Set(ctx, "nav:fund-2", "98.10", time.Minute); err != nil {
		t.Fatalf("write during outage must not error: %v", err)
	}
	if svc.PendingWrites() == 0 {
		t.Fatal("expected the write recorded as an intent")
	}

	// Reads degrade to the local copy instead of failing.
	v, ok := svc.Get(ctx, "nav:fund-2")
	if !ok || v != "98.10" {
		t.Fatalf("expected the local copy during the outage, got %q (ok=%v)", v, ok)
	}

	// Unknown keys degrade to empty, still without an error.
	if v, ok := svc.Get(ctx, "never-seen"); ok || v != "" {
		t.Fatalf("expected empty degradation, got %q (ok=%v)", v, ok)
	}
}

func TestStack_AdminAndMetricsEndpoints(t *testing.T) {
	svc, _, srv := newStack(t)
	ctx := context.Background()

	svc.Get(ctx, "k")
	svc.Get(ctx, "k")

	// httptest connects from 127.0.0.1, which the allowlist admits.
	resp, body := httpGet(t, srv.URL+"/admin/breakers")
	assertStatusCode(t, resp, http.StatusOK)
	m := parseJSON(t, body)
	bs, ok := m["breakers"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected breakers object, got %v", m)
	}
	entry, ok := bs["cache-redis"].(map[string]interface{})
	if !ok {
		t.Fatal("expected cache-redis in the admin snapshot")
	}
	if entry["state"] != "open" {
		t.Errorf("expected open state in snapshot, got %v", entry["state"])
	}

	resp, body = httpGet(t, srv.URL+"/metrics")
	assertStatusCode(t, resp, http.StatusOK)
	assertBodyContains(t, body, "resilience_breaker_state")
	assertBodyContains(t, body, "resilience_fallbacks_total")
}

func TestStack_PartnerStaysNonCritical(t *testing.T) {
	_, registry, srv := newStack(t)

	var broken atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"price":"102.35"}`))
	}))
	defer upstream.Close()

	partnerCB, err := breaker.New("partner-quotes", breaker.Options{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	}, slog.Default())
	if err != nil {
		t.Fatalf("creating partner breaker: %v", err)
	}
	registry.Register("partner-quotes", partnerCB)

	client := partner.New(upstream.Client(), partnerCB, partner.Config{}, slog.Default())
	ctx := context.Background()

	if _, err := client.Get(ctx, upstream.URL+"/quotes?fund=1"); err != nil {
		t.Fatalf("warming request failed: %v", err)
	}

	broken.Store(true)
	resp, err := client.Get(ctx, upstream.URL+"/quotes?fund=1")
	if err != nil {
		t.Fatalf("expected a stale quote, got %v", err)
	}
	if !resp.Stale {
		t.Fatal("expected the quote marked stale")
	}
	if partnerCB.State() != breaker.StateOpen {
		t.Fatalf("expected open partner breaker, got %v", partnerCB.State())
	}

	// An open partner breaker degrades but does not flip readiness.
	httpResp, body := httpGet(t, srv.URL+"/ready")
	assertStatusCode(t, httpResp, http.StatusOK)
	m := parseJSON(t, body)
	if m["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", m["status"])
	}
}
