// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ig-autoreply/internal/core/ports"
)

// Ensure RedisRepository implements DedupStore
var _ ports.DedupStore = (*RedisRepository)(nil)

// RedisRepository implements delivery markers shared by all instances
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		prefix: "dedup:ig:",
	}
}

// SeenOrMark sets the key only if absent (SET NX PX), so check and mark
// are one round trip and two instances cannot both claim the same key
func (r *RedisRepository) SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fullKey := r.prefix + key

	// Value is timestamp for debugging purposes
	ok, err := r.client.SetNX(ctx, fullKey, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"key", fullKey,
		)
		return false, fmt.Errorf("dedup set nx: %w", err)
	}

	if !ok {
		slog.Debug("Duplicate delivery marker found", "key", fullKey)
		return true, nil
	}
	return false, nil
}

// Release deletes the marker
func (r *RedisRepository) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

// Ping checks connectivity, used at startup and by the health endpoint
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
