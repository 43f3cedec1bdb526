package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the shared Redis instance.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const (
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "trialkit:"
)

// NewRedisClient dials Redis and pings it so misconfiguration surfaces during start-up.
// The same client backs the cache store, the API rate limiter and the quota lock.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

// IncrementWithTTL increments the key and starts its window on the first hit.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	k := prefixed(key)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	remaining, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if remaining < 0 {
		// The key lost its expiry (first writer crashed between INCR and PEXPIRE).
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, 0, err
		}
		remaining = window
	}
	return count, remaining, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, prefixed(key), value, ttl).Err()
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.SetNX(ctx, prefixed(key), value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = prefixed(key)
	}
	return s.client.Del(ctx, prefixedKeys...).Err()
}

func prefixed(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return redisKeyPrefix + key
}
