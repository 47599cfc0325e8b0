package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rentledger/internal/config"
	"rentledger/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisViewRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisViewRepository(client *redis.Client, ttl time.Duration) *RedisViewRepository {
	return &RedisViewRepository{client: client, ttl: ttl}
}

func viewKey(bookingID int64) string {
	return fmt.Sprintf("booking_view:%d", bookingID)
}

func (r *RedisViewRepository) GetView(ctx context.Context, bookingID int64) (*models.BookingView, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, viewKey(bookingID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get view from redis: %w", err)
	}

	var view models.BookingView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view: %w", err)
	}
	return &view, nil
}

func (r *RedisViewRepository) SetView(ctx context.Context, view *models.BookingView) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}
	if err := r.client.Set(ctx, viewKey(view.Booking.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set view in redis: %w", err)
	}
	return nil
}

func (r *RedisViewRepository) Invalidate(ctx context.Context, bookingID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, viewKey(bookingID)).Err(); err != nil {
		return fmt.Errorf("failed to delete view from redis: %w", err)
	}
	return nil
}

func (r *RedisViewRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rate_limit:%d", userID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count <= int64(limit), nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
