package monitor

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"voip-billing/pkg/utils"
)

// RedisSlotLimiter caps concurrent live calls per account using atomic
// counter scripts. The TTL guards against slots leaked by a crashed process;
// it should comfortably exceed the longest plausible call.
type RedisSlotLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisSlotLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisSlotLimiter {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisSlotLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisSlotLimiter) key(accountID string) string {
	return "calls:active:" + accountID
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context, accountID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(accountID), l.limit, l.ttl)
}

func (l *RedisSlotLimiter) Release(ctx context.Context, accountID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(accountID))
}
