// Package ratelimit throttles per-user actions. The Redis limiter shares its
// counters across processes using INCR + EXPIRE fixed windows; the local
// limiter keeps a token bucket per identifier and serves single-process
// deployments and tests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage allows 20 sends per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleConnect allows 10 realtime handshakes per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: time.Minute}
)

type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisLimiter(client *redis.Client, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, log: log}
}

// Allow increments the identifier's counter and sets the expiry on first
// access. Redis errors fail open.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("ratelimit incr failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("ratelimit expire failed, failing open", zap.String("key", key), zap.Error(err))
			// a key without TTL would block the identifier forever
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// LocalLimiter keeps one token bucket per rule and identifier in memory.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.Allow(), nil
}
