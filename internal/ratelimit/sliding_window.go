// Package ratelimit caps how often a key may act within a rolling window.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"interviewprep/internal/util"
)

// slidingWindow keeps one sorted-set member per admitted call, scored by its
// time in milliseconds. It returns {1, 0} when admitted, otherwise {0, ms}
// until the oldest call leaves the window.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2]) + window - now}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits at most limit calls per key in any window-long span.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(addr, password, prefix string, limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "interviewprep:ratelimit"
	}
	return &Limiter{
		rdb:    redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Allow records one call for key when it fits. Redis errors deny the call.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	nowMs := l.now().UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + util.NewID()
	res, err := slidingWindow.Run(ctx, l.rdb, []string{l.prefix + ":" + key},
		nowMs, l.window.Milliseconds(), l.limit, member).Int64Slice()
	if err != nil || len(res) != 2 {
		util.LoggerFromContext(ctx).Warn("rate_limit_unavailable", "key", key, "err", err)
		return Decision{RetryAfter: time.Second}
	}
	if res[0] == 1 {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: max(time.Duration(res[1])*time.Millisecond, time.Millisecond)}
}

func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}
