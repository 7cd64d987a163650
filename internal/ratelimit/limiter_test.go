package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocalLimiter()
	rule := Rule{Key: "t:", Limit: 3, Window: time.Hour}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "alice", rule); !ok {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "alice", rule); ok {
		t.Error("fourth request allowed, want denied")
	}
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Error("separate identifier should have its own bucket")
	}
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer client.Close()

	rule := Rule{Key: "rl:test:" + time.Now().Format("150405.000000") + ":", Limit: 2, Window: time.Minute}
	l := NewRedisLimiter(client, zap.NewNop())

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "alice", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if ok != want {
			t.Errorf("request %d allowed = %v, want %v", i+1, ok, want)
		}
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	ok, err := NewRedisLimiter(client, zap.NewNop()).Allow(context.Background(), "alice", RuleMessage)
	if !ok || err == nil {
		t.Errorf("Allow() = %v, %v; want true with error", ok, err)
	}
}
