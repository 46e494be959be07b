package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PurchaseCache remembers which auction an idempotency key bought, so a
// retried purchase is answered without taking the row lock again. The
// database remains the source of truth; a cache miss is never an error.
type PurchaseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPurchaseCache creates a PurchaseCache whose entries live for ttl.
func NewPurchaseCache(c *Client, ttl time.Duration) *PurchaseCache {
	return &PurchaseCache{rdb: c.rdb, ttl: ttl}
}

func purchaseKey(key string) string {
	return "purchase:" + key
}

// Lookup returns the auction id recorded for key.
func (pc *PurchaseCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := pc.rdb.Get(ctx, purchaseKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: lookup purchase %s: %w", key, err)
	}
	return id, true, nil
}

// Remember records that key bought auctionID. The first write wins.
func (pc *PurchaseCache) Remember(ctx context.Context, key, auctionID string) error {
	if err := pc.rdb.SetNX(ctx, purchaseKey(key), auctionID, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: remember purchase %s: %w", key, err)
	}
	return nil
}
