package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by
// RedisCounter. Keeping it as an interface enables mocking in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisCounterConfig holds connection settings for a Redis-backed counter
// store.
type RedisCounterConfig struct {
	// Address is the host:port of the Redis server.
	Address string

	// Password authenticates against the server, empty for none.
	Password string

	// DB selects the Redis logical database.
	DB int
}

// RedisCounter implements Counter on a shared Redis instance. SETNX, INCR,
// DECR and GET give exactly the atomic primitives the rendezvous needs; no
// compare-and-swap loop is required.
type RedisCounter struct {
	client RedisClient
}

// NewRedisCounter connects to Redis and verifies the connection with PING.
// A failed connection surfaces here, never during Join or Poll.
func NewRedisCounter(ctx context.Context, cfg RedisCounterConfig) (*RedisCounter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("quorum: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("quorum: redis ping failed: %w", err)
	}
	return &RedisCounter{client: client}, nil
}

// NewRedisCounterWithClient wraps a pre-built client. This is intended for
// testing.
func NewRedisCounterWithClient(client RedisClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Close closes the underlying Redis connection.
func (r *RedisCounter) Close() error {
	return r.client.Close()
}

// AddIfAbsent implements Counter.
func (r *RedisCounter) AddIfAbsent(ctx context.Context, key string, initial int64, ttl time.Duration) error {
	return r.client.SetNX(ctx, key, initial, ttl).Err()
}

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Decr implements Counter.
func (r *RedisCounter) Decr(ctx context.Context, key string) (int64, error) {
	return r.client.Decr(ctx, key).Result()
}

// Get implements Counter.
func (r *RedisCounter) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Delete implements Counter.
func (r *RedisCounter) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}
