package quorum

import (
	"context"
	"fmt"
	"time"
)

// Backend names a counter store implementation.
type Backend string

const (
	// BackendMemory is the in-process counter store, suitable for a
	// single-host deployment or tests.
	BackendMemory Backend = "memory"

	// BackendRedis is the Redis-backed counter store shared by
	// independent agents.
	BackendRedis Backend = "redis"
)

// Config selects and configures a Coordinator backend.
type Config struct {
	// Backend selects the counter store implementation.
	Backend Backend `yaml:"backend" validate:"required,oneof=memory redis"`

	// KeyPrefix namespaces rendezvous keys within a shared store.
	KeyPrefix string `yaml:"key_prefix"`

	// TTL bounds the lifetime of rendezvous counters.
	TTL time.Duration `yaml:"ttl"`

	// Redis configures the redis backend; ignored for memory.
	Redis RedisCounterConfig `yaml:"redis"`
}

// New builds a Coordinator from configuration. A bad backend name or
// unreachable store fails here, before any deployment work starts.
func New(ctx context.Context, cfg Config) (Coordinator, error) {
	var counter Counter
	switch cfg.Backend {
	case BackendMemory:
		counter = NewMemoryCounter()
	case BackendRedis:
		redisCounter, err := NewRedisCounter(ctx, RedisCounterConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		counter = redisCounter
	default:
		return nil, fmt.Errorf("quorum: unknown backend %q (want %q or %q)", cfg.Backend, BackendMemory, BackendRedis)
	}
	return NewCounterCoordinator(CounterCoordinatorConfig{
		Counter:   counter,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	})
}
