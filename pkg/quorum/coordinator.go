package quorum

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds the lifetime of rendezvous counters. It reclaims
// namespaces whose round was abandoned without a full dissolution
// acknowledgment, e.g. when an agent crashed between Join and Poll.
const DefaultTTL = time.Hour

// CounterCoordinator implements Coordinator on top of a shared atomic
// counter store.
//
// Per namespace it maintains three keys:
//
//   - count: number of participants that joined so far
//   - drain: remaining observers that must acknowledge the outcome before
//     the namespace is reclaimed, seeded to quorum-1
//   - severed: non-zero once any participant abandoned the round
//
// The last acknowledging observer deletes the keys, so a namespace can be
// reused for a later round without manual cleanup.
type CounterCoordinator struct {
	counter Counter
	prefix  string
	ttl     time.Duration
}

// CounterCoordinatorConfig configures a CounterCoordinator.
type CounterCoordinatorConfig struct {
	// Counter is the shared store (required).
	Counter Counter

	// KeyPrefix namespaces the counter keys within a shared store
	// (default "stagegate:quorum:").
	KeyPrefix string

	// TTL bounds the lifetime of rendezvous counters (default DefaultTTL).
	TTL time.Duration
}

// NewCounterCoordinator creates a coordinator over the given counter store.
// Configuration problems fail here, never during Join or Poll.
func NewCounterCoordinator(cfg CounterCoordinatorConfig) (*CounterCoordinator, error) {
	if cfg.Counter == nil {
		return nil, fmt.Errorf("quorum: counter store is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "stagegate:quorum:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("quorum: TTL must be positive, got %s", cfg.TTL)
	}
	return &CounterCoordinator{
		counter: cfg.Counter,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
	}, nil
}

func (c *CounterCoordinator) countKey(namespace string) string {
	return c.prefix + namespace + ":count"
}

func (c *CounterCoordinator) drainKey(namespace string) string {
	return c.prefix + namespace + ":drain"
}

func (c *CounterCoordinator) severedKey(namespace string) string {
	return c.prefix + namespace + ":severed"
}

// seed creates the count and drain keys for the namespace if this is the
// first participant to touch it. AddIfAbsent is idempotent, so every
// participant seeds unconditionally and the drain counter is always present
// before anyone can observe completion.
func (c *CounterCoordinator) seed(ctx context.Context, namespace string, quorum int) error {
	if err := c.counter.AddIfAbsent(ctx, c.countKey(namespace), 0, c.ttl); err != nil {
		return fmt.Errorf("quorum: seeding count for %q: %w", namespace, err)
	}
	if err := c.counter.AddIfAbsent(ctx, c.drainKey(namespace), int64(quorum-1), c.ttl); err != nil {
		return fmt.Errorf("quorum: seeding drain for %q: %w", namespace, err)
	}
	return nil
}

// Join implements Coordinator.
func (c *CounterCoordinator) Join(ctx context.Context, namespace string, quorum int) (bool, error) {
	if err := validateQuorum(quorum); err != nil {
		return false, err
	}
	if err := c.seed(ctx, namespace, quorum); err != nil {
		return false, err
	}
	count, err := c.counter.Incr(ctx, c.countKey(namespace))
	if err != nil {
		return false, fmt.Errorf("quorum: joining %q: %w", namespace, err)
	}
	if count != int64(quorum) {
		return false, nil
	}
	if quorum == 1 {
		// Nobody will poll; reclaim the namespace immediately.
		if err := c.counter.Delete(ctx, c.countKey(namespace), c.drainKey(namespace)); err != nil {
			return true, fmt.Errorf("quorum: clearing %q: %w", namespace, err)
		}
	}
	return true, nil
}

// Poll implements Coordinator.
func (c *CounterCoordinator) Poll(ctx context.Context, namespace string, quorum int) (bool, error) {
	if err := validateQuorum(quorum); err != nil {
		return false, err
	}
	severed, ok, err := c.counter.Get(ctx, c.severedKey(namespace))
	if err != nil {
		return false, fmt.Errorf("quorum: polling %q: %w", namespace, err)
	}
	if ok && severed > 0 {
		if err := c.acknowledge(ctx, namespace, true); err != nil {
			return false, err
		}
		return false, fmt.Errorf("quorum %q: %w", namespace, ErrQuorumDissolved)
	}

	count, ok, err := c.counter.Get(ctx, c.countKey(namespace))
	if err != nil {
		return false, fmt.Errorf("quorum: polling %q: %w", namespace, err)
	}
	if !ok || count < int64(quorum) {
		return false, nil
	}
	if err := c.acknowledge(ctx, namespace, false); err != nil {
		return false, err
	}
	return true, nil
}

// Sever implements Coordinator. It counts as the severing participant's
// only interaction with the namespace; it must be called instead of Join.
func (c *CounterCoordinator) Sever(ctx context.Context, namespace string, quorum int) error {
	if err := validateQuorum(quorum); err != nil {
		return err
	}
	if err := c.seed(ctx, namespace, quorum); err != nil {
		return err
	}
	if err := c.counter.AddIfAbsent(ctx, c.severedKey(namespace), 0, c.ttl); err != nil {
		return fmt.Errorf("quorum: severing %q: %w", namespace, err)
	}
	if _, err := c.counter.Incr(ctx, c.severedKey(namespace)); err != nil {
		return fmt.Errorf("quorum: severing %q: %w", namespace, err)
	}
	return nil
}

// acknowledge records that one observer saw the round's outcome and deletes
// the namespace keys once the last observer acknowledged.
func (c *CounterCoordinator) acknowledge(ctx context.Context, namespace string, dissolved bool) error {
	remaining, err := c.counter.Decr(ctx, c.drainKey(namespace))
	if err != nil {
		return fmt.Errorf("quorum: acknowledging %q: %w", namespace, err)
	}
	if remaining > 0 {
		return nil
	}
	keys := []string{c.countKey(namespace), c.drainKey(namespace)}
	if dissolved {
		keys = append(keys, c.severedKey(namespace))
	}
	if err := c.counter.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("quorum: clearing %q: %w", namespace, err)
	}
	return nil
}
