package nonce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/TheGreatAxios/x402-facilitator/internal/errdefs"
)

func newRedisTracker(t *testing.T, ttl time.Duration) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck
	return NewRedisTracker(rdb, ttl), mr
}

func TestRedisMarkUsedOnce(t *testing.T) {
	tr, _ := newRedisTracker(t, time.Hour)
	ctx := context.Background()

	if err := tr.MarkUsed(ctx, "0xabc"); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	err := tr.MarkUsed(ctx, "0xabc")
	var already *errdefs.NonceAlreadyUsedError
	if !errors.As(err, &already) {
		t.Fatalf("want NonceAlreadyUsedError, got %v", err)
	}

	used, err := tr.IsUsed(ctx, "0xabc")
	if err != nil {
		t.Fatalf("IsUsed: %v", err)
	}
	if !used {
		t.Fatal("marked nonce reported unused")
	}
}

func TestRedisNonceNormalization(t *testing.T) {
	tr, _ := newRedisTracker(t, time.Hour)
	ctx := context.Background()

	if err := tr.MarkUsed(ctx, "42"); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := tr.MarkUsed(ctx, "0x2A"); err == nil {
		t.Fatal("hex alias did not collide with decimal form")
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	tr, mr := newRedisTracker(t, time.Minute)
	ctx := context.Background()

	if err := tr.MarkUsed(ctx, "0xabc"); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	// miniredis advances TTLs manually.
	mr.FastForward(2 * time.Minute)

	used, err := tr.IsUsed(ctx, "0xabc")
	if err != nil {
		t.Fatalf("IsUsed: %v", err)
	}
	if used {
		t.Fatal("expired nonce reported used")
	}
	if err := tr.MarkUsed(ctx, "0xabc"); err != nil {
		t.Fatalf("MarkUsed after expiry: %v", err)
	}
}

func TestRedisSizeAndClear(t *testing.T) {
	tr, _ := newRedisTracker(t, time.Hour)
	ctx := context.Background()

	for _, n := range []string{"0x1", "0x2", "0x3"} {
		if err := tr.MarkUsed(ctx, n); err != nil {
			t.Fatalf("MarkUsed(%s): %v", n, err)
		}
	}

	size, err := tr.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}

	if err := tr.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	size, err = tr.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("size = %d after clear, want 0", size)
	}
}

func TestRedisCleanupNoOp(t *testing.T) {
	tr, _ := newRedisTracker(t, time.Hour)
	ctx := context.Background()

	if err := tr.MarkUsed(ctx, "0xabc"); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := tr.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	used, err := tr.IsUsed(ctx, "0xabc")
	if err != nil {
		t.Fatalf("IsUsed: %v", err)
	}
	if !used {
		t.Fatal("Cleanup dropped a live nonce")
	}
}
