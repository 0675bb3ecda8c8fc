/**
 * @description
 * Rate-limited gateway for calls to a quota-limited upstream. Every call runs
 * through a TTL cache, a FIFO-fair bounded-concurrency guard, retry with
 * exponential backoff on throttling, and a process-wide cooldown window that
 * is entered after any detected 429. When the upstream cannot be called, the
 * gateway degrades to a stale cached value, then to the caller's fallback,
 * before surfacing an error.
 *
 * @dependencies
 * - golang.org/x/sync/semaphore: FIFO-fair weighted semaphore for the permit pool.
 */

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrRateLimited is returned when the upstream is throttled (or in cooldown)
// and neither a cached value nor a fallback is available. Callers can
// special-case it to keep serving their last known state.
var ErrRateLimited = errors.New("gateway: upstream rate limited and no cached or fallback value available")

// httpStatusError is satisfied by upstream client errors that carry an HTTP
// status code. The gateway uses it to recognize throttling (429) and
// credential failures (401) without depending on a concrete client package.
type httpStatusError interface {
	HTTPStatus() int
}

func httpStatusOf(err error) (int, bool) {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus(), true
	}
	return 0, false
}

func isThrottle(err error) bool {
	if status, ok := httpStatusOf(err); ok && status == http.StatusTooManyRequests {
		return true
	}
	return errors.Is(err, ErrRateLimited)
}

func isAuthFailure(err error) bool {
	status, ok := httpStatusOf(err)
	return ok && status == http.StatusUnauthorized
}

// Config carries the tunables for a Gateway. Zero fields fall back to the
// defaults documented on each field.
type Config struct {
	MaxConcurrent  int           // permit pool size, default 3
	PermitWait     time.Duration // bounded wait for a permit, default 500ms
	Cooldown       time.Duration // window after a throttle with no upstream calls, default 60s
	MaxAttempts    int           // attempts per Execute including the first, default 3
	InitialBackoff time.Duration // backoff before the second attempt, doubled per retry, default 500ms
	Clock          func() time.Time
	Sleep          func(time.Duration)
	Logger         *slog.Logger
}

// Stats is a point-in-time snapshot of the gateway counters, exposed on the
// diagnostics endpoint.
type Stats struct {
	Requests       uint64    `json:"requests"`
	CacheHits      uint64    `json:"cache_hits"`
	Successes      uint64    `json:"successes"`
	Throttled      uint64    `json:"throttled"`
	LastThrottleAt time.Time `json:"last_throttle_at"`
	CooldownActive bool      `json:"cooldown_active"`
}

// Gateway owns the cache, the permit pool, the cooldown state and the
// observability counters. One instance is shared by all requests in the
// process.
type Gateway struct {
	cache          *Cache
	sem            *semaphore.Weighted
	permitWait     time.Duration
	cooldown       time.Duration
	initialBackoff time.Duration
	maxAttempts    int
	now            func() time.Time
	sleep          func(time.Duration)
	logger         *slog.Logger

	requests  atomic.Uint64
	hits      atomic.Uint64
	successes atomic.Uint64
	throttled atomic.Uint64
	// Unix nanoseconds of the last observed throttle; 0 means never.
	lastThrottle atomic.Int64
}

// New creates a Gateway from cfg, applying defaults for zero fields.
func New(cfg Config) *Gateway {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.PermitWait <= 0 {
		cfg.PermitWait = 500 * time.Millisecond
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache := NewCache()
	cache.now = cfg.Clock

	return &Gateway{
		cache:          cache,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		permitWait:     cfg.PermitWait,
		cooldown:       cfg.Cooldown,
		initialBackoff: cfg.InitialBackoff,
		maxAttempts:    cfg.MaxAttempts,
		now:            cfg.Clock,
		sleep:          cfg.Sleep,
		logger:         cfg.Logger,
	}
}

// Cache exposes the gateway's cache for scheduled maintenance.
func (g *Gateway) Cache() *Cache {
	return g.cache
}

// InCooldown reports whether the gateway is still inside the cooldown window
// opened by the last observed throttle.
func (g *Gateway) InCooldown() bool {
	last := g.lastThrottle.Load()
	if last == 0 {
		return false
	}
	return g.now().Sub(time.Unix(0, last)) < g.cooldown
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	stats := Stats{
		Requests:       g.requests.Load(),
		CacheHits:      g.hits.Load(),
		Successes:      g.successes.Load(),
		Throttled:      g.throttled.Load(),
		CooldownActive: g.InCooldown(),
	}
	if last := g.lastThrottle.Load(); last != 0 {
		stats.LastThrottleAt = time.Unix(0, last)
	}
	return stats
}

// Execute runs primary through the gateway's cache, permit pool, retry and
// cooldown machinery. The result is cached under key with the given ttl.
// fallback may be nil; when present it is the last resort before an error
// surfaces. Execute is a package function because methods cannot be generic.
func Execute[T any](ctx context.Context, g *Gateway, key string, ttl time.Duration, primary func(context.Context) (T, error), fallback func() (T, error)) (T, error) {
	g.requests.Add(1)

	if entry, ok := g.cache.Get(key); ok && !entry.Expired(ttl, g.now()) {
		if value, ok := entry.Value.(T); ok {
			g.hits.Add(1)
			return value, nil
		}
	}

	// Inside the cooldown window a stale value beats a call to an upstream
	// known to be throttled.
	if g.InCooldown() {
		g.throttled.Add(1)
		return degrade(g, key, fallback, ErrRateLimited)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, g.permitWait)
	err := g.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		// No permit within the bounded wait: the process is saturating its
		// own budget, treat it like a throttled upstream.
		g.throttled.Add(1)
		return degrade(g, key, fallback, ErrRateLimited)
	}
	defer g.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		value, err := primary(ctx)
		if err == nil {
			g.cache.Put(key, value)
			g.successes.Add(1)
			return value, nil
		}
		lastErr = err

		if isAuthFailure(err) {
			// Retrying cannot fix bad credentials and only burns quota.
			g.logger.Warn("upstream rejected credentials, not retrying", "key", key, "err", err)
			return degrade(g, key, fallback, err)
		}

		if isThrottle(err) {
			g.lastThrottle.Store(g.now().UnixNano())
			g.throttled.Add(1)
			if attempt < g.maxAttempts-1 {
				backoff := g.initialBackoff << attempt
				g.logger.Warn("upstream throttled, backing off", "key", key, "attempt", attempt+1, "backoff", backoff)
				g.sleep(backoff)
				continue
			}
			return degrade(g, key, fallback, ErrRateLimited)
		}

		// Any other failure gets one shot, then cache/fallback, then the
		// caller sees the primary's own error.
		return degrade(g, key, fallback, fmt.Errorf("gateway: primary call failed: %w", err))
	}

	return degrade(g, key, fallback, fmt.Errorf("gateway: primary call failed: %w", lastErr))
}

// degrade serves a stale cached value if one exists, then the fallback, and
// only then surfaces failure.
func degrade[T any](g *Gateway, key string, fallback func() (T, error), failure error) (T, error) {
	if entry, ok := g.cache.Get(key); ok {
		if value, ok := entry.Value.(T); ok {
			return value, nil
		}
	}
	if fallback != nil {
		return fallback()
	}
	var zero T
	return zero, failure
}
