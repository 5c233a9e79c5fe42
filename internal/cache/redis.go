package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix namespaces every key. Default: "mobileconnect:".
	KeyPrefix string
}

// RedisStore is a Store shared by every process pointing at the same Redis.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mobileconnect:"
	}
	return &RedisStore{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(k string) string { return s.keyPrefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
