// Package ratelimit counts requests per caller in fixed Redis windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows Limit requests per key in each Window.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

// New returns a limiter backed by rdb.
func New(rdb redis.Cmdable, limit int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (l *Limiter) windowKey(key string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("rl:%s:%d", key, bucket)
}

// Allow counts one request for key and reports whether it is within the
// limit for the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.windowKey(key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}
