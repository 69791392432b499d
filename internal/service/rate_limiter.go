package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

const limiterMaxEntries = 10000

type windowEntry struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter is the in-process limiter. Expired windows are dropped
// lazily on read and by a sweep once the map grows past limiterMaxEntries.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the time source; tests use it to step past a window.
func (l *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	l.now = now
	return l
}

func (l *FixedWindowLimiter) Allow(_ context.Context, key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) > limiterMaxEntries {
		l.sweep(now)
	}

	entry, ok := l.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowEntry{resetAt: now.Add(l.window)}
		l.entries[key] = entry
	}

	if entry.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			RetryAfter: entry.resetAt.Sub(now),
			ResetAt:    entry.resetAt,
		}
	}

	entry.count++
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - entry.count,
		ResetAt:   entry.resetAt,
	}
}

func (l *FixedWindowLimiter) sweep(now time.Time) {
	for key, entry := range l.entries {
		if !now.Before(entry.resetAt) {
			delete(l.entries, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// fixedWindowScript increments the window counter and starts its expiry on the first hit.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisFixedWindowLimiter shares counters between replicas.
type RedisFixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	now := time.Now()
	fullKey := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)

	result, err := fixedWindowScript.Run(ctx, l.client, []string{fullKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(result) != 2 {
		log.Warn().Err(err).Str("key", key).Msg("redis rate limit check failed, allowing request")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - 1, ResetAt: now.Add(l.window)}
	}

	count, ttl := int(result[0]), time.Duration(result[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	resetAt := now.Add(ttl)

	if count > l.limit {
		return Decision{Allowed: false, Limit: l.limit, RetryAfter: ttl, ResetAt: resetAt}
	}
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - count, ResetAt: resetAt}
}
