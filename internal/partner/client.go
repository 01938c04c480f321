// Package partner wraps calls to partner HTTP APIs with a circuit breaker
// and a short-TTL stale-response store. While the partner is unreachable,
// reads are answered from the most recent known-good response as long as it
// is younger than the staleness window.
package partner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dskow/resilience-core/internal/breaker"
	"github.com/dskow/resilience-core/internal/errclass"
	"github.com/dskow/resilience-core/internal/hedge"
	"github.com/dskow/resilience-core/internal/singleflight"
)

// ErrNoFreshResponse is returned when the live call failed and the stale
// store has nothing younger than the staleness window.
var ErrNoFreshResponse = errors.New("partner: no sufficiently fresh response available")

// DefaultStalenessWindow bounds how old a fallback response may be.
const DefaultStalenessWindow = 5 * time.Minute

// Response is a known-good partner reply.
type Response struct {
	Status    int
	Body      []byte
	FetchedAt time.Time
	// Stale marks responses served from the fallback store.
	Stale bool
}

// Config tunes the partner client.
type Config struct {
	// StalenessWindow bounds fallback age. Default 5m.
	StalenessWindow time.Duration
	// HedgeDelay, when > 0, races each GET against a delayed duplicate to
	// bound tail latency.
	HedgeDelay time.Duration
	// MaxBodyBytes caps response bodies. Default 1 MiB.
	MaxBodyBytes int64
	// StoreCapacity bounds the stale store. Default 512.
	StoreCapacity int
}

func (c Config) withDefaults() Config {
	if c.StalenessWindow == 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.StoreCapacity == 0 {
		c.StoreCapacity = 512
	}
	return c
}

// Client is the HTTP-protecting domain wrapper.
type Client struct {
	http       *http.Client
	cb         *breaker.CircuitBreaker
	store      *staleStore
	flight     *singleflight.Group
	windowNs   atomic.Int64
	hedgeDelay time.Duration
	maxBody    int64
	logger     *slog.Logger
}

// New creates a partner client guarded by cb. httpClient may be nil, in
// which case http.DefaultClient is used (the breaker supplies the timeout).
func New(httpClient *http.Client, cb *breaker.CircuitBreaker, cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:       httpClient,
		cb:         cb,
		store:      newStaleStore(cfg.StoreCapacity),
		flight:     singleflight.NewGroup(cb.Name()),
		hedgeDelay: cfg.HedgeDelay,
		maxBody:    cfg.MaxBodyBytes,
		logger:     logger,
	}
	c.windowNs.Store(int64(cfg.StalenessWindow))
	return c
}

// StalenessWindow returns the current fallback age bound.
func (c *Client) StalenessWindow() time.Duration {
	return time.Duration(c.windowNs.Load())
}

// SetStalenessWindow adjusts the fallback age bound at runtime (hot reload).
func (c *Client) SetStalenessWindow(d time.Duration) {
	if d > 0 {
		c.windowNs.Store(int64(d))
	}
}

// Get fetches url through the breaker. Identical concurrent GETs are
// collapsed into one live call. On live failure the most recent known-good
// response is served if younger than the staleness window; otherwise
// ErrNoFreshResponse propagates.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	sig := requestSignature(http.MethodGet, url)

	v, err := c.flight.Do(ctx, sig, func(ctx context.Context) (any, error) {
		return c.cb.Do(ctx, c.liveGet(url, sig), c.staleGet(sig))
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*Response)
	if !ok {
		return nil, fmt.Errorf("partner: unexpected result type %T", v)
	}
	return resp, nil
}

// liveGet performs the real fetch, optionally hedged for tail latency, and
// refreshes the stale store on success.
func (c *Client) liveGet(url, sig string) breaker.Operation {
	fetch := func(ctx context.Context) (any, error) {
		return c.fetch(ctx, url, sig)
	}
	if c.hedgeDelay <= 0 {
		return fetch
	}
	return func(ctx context.Context) (any, error) {
		// GETs are idempotent, so a duplicate in-flight request is safe.
		return hedge.Do(ctx, fetch, fetch, c.hedgeDelay)
	}
}

func (c *Client) fetch(ctx context.Context, url, sig string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		// Upstream server trouble is infrastructure, whatever the message.
		return nil, errclass.SystemError("upstream returned %d for %s", resp.StatusCode, url)
	case resp.StatusCode >= 400:
		// Client errors are business outcomes; they must not trip the
		// circuit.
		return nil, fmt.Errorf("upstream rejected request with %d for %s", resp.StatusCode, url)
	}

	out := &Response{
		Status:    resp.StatusCode,
		Body:      body,
		FetchedAt: time.Now(),
	}
	c.store.set(sig, *out)
	return out, nil
}

// staleGet is the fallback: the most recent known-good response, if young
// enough.
func (c *Client) staleGet(sig string) breaker.Operation {
	return func(ctx context.Context) (any, error) {
		e, ok := c.store.get(sig)
		if !ok {
			return nil, ErrNoFreshResponse
		}
		if age := time.Since(e.storedAt); age > c.StalenessWindow() {
			c.logger.Debug("stale response too old", "age", age)
			return nil, ErrNoFreshResponse
		}
		resp := e.resp
		resp.Stale = true
		return &resp, nil
	}
}

// Breaker exposes the guarding breaker for registry and readiness wiring.
func (c *Client) Breaker() *breaker.CircuitBreaker {
	return c.cb
}
