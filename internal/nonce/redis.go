package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
)

const redisNonceKeyPrefix = "payment:nonce:"

// RedisTracker shares nonce state across facilitator replicas. SET NX
// gives the atomic check-and-set; Redis key TTLs replace the sweep, so
// Cleanup is a no-op.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

func (t *RedisTracker) IsUsed(ctx context.Context, nonce string) (bool, error) {
	key, err := protocol.NormalizeNonce(nonce)
	if err != nil {
		return false, err
	}
	n, err := t.rdb.Exists(ctx, redisNonceKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *RedisTracker) MarkUsed(ctx context.Context, nonce string) error {
	key, err := protocol.NormalizeNonce(nonce)
	if err != nil {
		return err
	}
	set, err := t.rdb.SetNX(ctx, redisNonceKeyPrefix+key, 1, t.ttl).Result()
	if err != nil {
		return err
	}
	if !set {
		return errdefs.NewNonceAlreadyUsed("nonce already used: "+key, nil)
	}
	return nil
}

// Cleanup is a no-op: Redis evicts expired keys itself.
func (t *RedisTracker) Cleanup(context.Context) error { return nil }

func (t *RedisTracker) Size(ctx context.Context) (int, error) {
	var total int
	var cursor uint64
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, redisNonceKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (t *RedisTracker) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, redisNonceKeyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close does not close the shared Redis client; the owner does.
func (t *RedisTracker) Close() error { return nil }
