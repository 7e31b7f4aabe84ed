package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a shared governor store for multi-instance deployments.
// Rate windows use INCR with a window-length expiry; idempotency entries are
// plain keys with the journey TTL.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds the redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CountCall increments the device's call count; the key expires with the window
func (s *RedisStore) CountCall(ctx context.Context, deviceUUID string, window time.Duration) (int, error) {
	key := "liftbridge:rate:" + deviceUUID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate counter increment failed: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("rate counter expiry failed: %w", err)
		}
	}

	return int(count), nil
}

// CachedResponse returns the journey's cached response if present
func (s *RedisStore) CachedResponse(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, "liftbridge:journey:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return data, true, nil
}

// StoreResponse caches a journey response with the given TTL
func (s *RedisStore) StoreResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, "liftbridge:journey:"+key, response, ttl).Err()
}
