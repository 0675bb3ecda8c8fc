/**
 * @description
 * Distributed rate limiting for the force-sync endpoints. A fixed-window
 * counter in Redis bounds how often any single caller can trigger upstream
 * reconciliation, independently of which service instance handles the
 * request.
 */

package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var syncRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// SyncRateLimiter bounds per-caller force-sync frequency using Redis.
type SyncRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewSyncRateLimiter creates a limiter with the given key prefix.
func NewSyncRateLimiter(client redis.UniversalClient, prefix string) *SyncRateLimiter {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "billing_sync:rate_limit"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")

	return &SyncRateLimiter{
		client: client,
		prefix: trimmed,
	}
}

// Consume counts one request for subject under scope. It returns the running
// count inside the current window and the seconds until the window resets so
// handlers can emit a Retry-After header. A nil limiter or non-positive limit
// disables limiting.
func (l *SyncRateLimiter) Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if l == nil || l.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, normalizedScope, normalizedSubject)
	rawResult, err := syncRateLimitScript.Run(ctx, l.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}
