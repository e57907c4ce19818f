package ratelimit

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/lk2023060901/fileshare-backend/internal/pkg/redis"
)

// fixedWindowScript increments the counter for the current window and sets
// the window expiration on first hit, in one atomic round trip.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

// Limiter is a fixed-window rate limiter backed by Redis
type Limiter struct {
	redis  *pkgredis.Client
	limit  int64
	window time.Duration
	prefix string
}

// New creates a rate limiter allowing limit events per window per key
func New(redis *pkgredis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{
		redis:  redis,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
	}
}

// Allow reports whether the given key may perform another event in the
// current window. The counter is incremented even when the answer is no,
// which keeps a hammering client locked out until the window rolls over.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.redis == nil || l.limit <= 0 {
		// Limiter disabled
		return true, nil
	}

	window := time.Now().UnixMilli() / l.window.Milliseconds()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	result, err := l.redis.Eval(ctx, fixedWindowScript, []string{redisKey}, l.window.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected rate limit script result: %T", result)
	}

	return count <= l.limit, nil
}
