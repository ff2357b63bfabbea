package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is the Redis-backed limiter used when multiple service
// instances share one client population. Counters live under
// verifyd:rl:<key>:<window> with the window period as their TTL; one INCR +
// EXPIRE pipeline per request keeps the increment atomic.
type RedisWindow struct {
	rdb    *redis.Client
	limit  int
	period time.Duration
}

// NewRedisWindow creates a limiter allowing limit requests per period.
func NewRedisWindow(rdb *redis.Client, limit int, period time.Duration) *RedisWindow {
	return &RedisWindow{rdb: rdb, limit: limit, period: period}
}

var _ Limiter = (*RedisWindow)(nil)

func (l *RedisWindow) key(key string, now time.Time) string {
	return fmt.Sprintf("verifyd:rl:%s:%d", key, now.Unix()/int64(l.period.Seconds()))
}

// Allow counts one request against the key's current window. Redis errors
// fail open: sessions already depend on Redis in this deployment, so a
// down Redis takes the whole service with it anyway.
func (l *RedisWindow) Allow(key string) bool {
	ctx := context.Background()
	k := l.key(key, time.Now())

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}
	return incr.Val() <= int64(l.limit)
}

// Flagged reports whether the key is over budget this window.
func (l *RedisWindow) Flagged(key string) bool {
	ctx := context.Background()
	count, err := l.rdb.Get(ctx, l.key(key, time.Now())).Int64()
	if err != nil {
		return false
	}
	return count > int64(l.limit)
}
