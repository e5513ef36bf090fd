package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeliveryKeyPrefix namespaces delivery-id keys in the shared Redis
// keyspace, mirroring the original implementation's "zammad:delivery_id:"
// prefix.
const RedisDeliveryKeyPrefix = "ticket-archiver:delivery_id:"

// RedisDeliveryStore is a durable, multi-instance delivery set backed by
// Redis SET NX EX, grounded on the original RedisDeliveryIdStore.
type RedisDeliveryStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDeliveryStore constructs a store over an existing client. prefix
// defaults to RedisDeliveryKeyPrefix when empty.
func NewRedisDeliveryStore(client *redis.Client, prefix string) *RedisDeliveryStore {
	if prefix == "" {
		prefix = RedisDeliveryKeyPrefix
	}
	return &RedisDeliveryStore{client: client, prefix: prefix}
}

func (s *RedisDeliveryStore) key(deliveryID string) string {
	return s.prefix + deliveryID
}

// Claim issues SET key "1" NX EX ttl; the command's own atomicity gives
// us "concurrent claimers see exactly one Fresh" for free.
func (s *RedisDeliveryStore) Claim(ctx context.Context, deliveryID string, ttl time.Duration) (ClaimResult, error) {
	claimed, err := s.client.SetNX(ctx, s.key(deliveryID), "1", ttl).Result()
	if err != nil {
		return Duplicate, err
	}
	if claimed {
		return Fresh, nil
	}
	return Duplicate, nil
}

// Release removes a previously claimed key so the delivery id can be
// claimed again. Nothing in this repository calls it; POST /retry avoids
// deduplication by leaving the delivery id unset instead.
func (s *RedisDeliveryStore) Release(ctx context.Context, deliveryID string) error {
	return s.client.Del(ctx, s.key(deliveryID)).Err()
}
