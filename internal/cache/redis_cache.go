package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var (
	_ ReceiptCache = (*RedisCache)(nil)
	_ ReceiptCache = Noop{}
)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type receiptValue struct {
	LeadID string    `json:"leadId"`
	Status string    `json:"status"`
	SentAt time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreReceipt(ctx context.Context, entryID, leadID, status string, sentAt time.Time) error {
	val := receiptValue{
		LeadID: leadID,
		Status: status,
		SentAt: sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, "rcs:receipt:"+entryID, b, c.ttl).Err()
}
