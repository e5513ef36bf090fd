// Package persistence wraps the shared infrastructure clients the
// archival pipeline depends on beyond the ticketing system itself:
// Redis, used by the delivery-id store and the external-queue
// dispatcher when those are configured to run outside process memory.
package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/config"
)

// Redis wraps the go-redis client shared by the idempotency and
// dispatcher packages, so the process holds exactly one connection
// pool regardless of how many components use Redis.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using cfg. Connection failures are logged
// but non-fatal at construction time: the in-memory fallbacks keep the
// service usable even when Redis is briefly unreachable at startup.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity, used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
