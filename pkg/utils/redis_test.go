package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAcquireConcurrencyCapValidatesArgs(t *testing.T) {
	ctx := context.Background()

	if _, err := AcquireConcurrencyCap(ctx, nil, "calls:active:acct-1", 3, time.Hour); err == nil {
		t.Fatalf("expected error for nil client")
	}

	// Argument checks run before any network call, so an unreachable
	// address is fine here.
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	if _, err := AcquireConcurrencyCap(ctx, rdb, "", 3, time.Hour); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "calls:active:acct-1", 0, time.Hour); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "calls:active:acct-1", 3, 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestReleaseConcurrencyCapValidatesArgs(t *testing.T) {
	ctx := context.Background()

	if err := ReleaseConcurrencyCap(ctx, nil, "calls:active:acct-1"); err == nil {
		t.Fatalf("expected error for nil client")
	}

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	if err := ReleaseConcurrencyCap(ctx, rdb, ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.DialTimeout != 3*time.Second || got.ReadTimeout != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", got)
	}
	if got.PoolSize != 20 {
		t.Fatalf("unexpected pool size: %d", got.PoolSize)
	}
	if got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected ping timeout: %v", got.PingTimeout)
	}
}
